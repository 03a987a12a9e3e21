package parcel

import "fmt"

// Exception codes written at the head of a reply.
const (
	ExNone                    int32 = 0
	ExSecurity                int32 = -1
	ExBadParcelable           int32 = -2
	ExIllegalArgument         int32 = -3
	ExNullPointer             int32 = -4
	ExIllegalState            int32 = -5
	ExNetworkMainThread       int32 = -6
	ExUnsupportedOperation    int32 = -7
	ExServiceSpecific         int32 = -8
	ExParcelable              int32 = -9
	ExHasReplyHeader          int32 = -128
	ExTransactionFailedNative int32 = -129
)

var exceptionNames = map[int32]string{
	ExSecurity:                "SecurityException",
	ExBadParcelable:           "BadParcelableException",
	ExIllegalArgument:         "IllegalArgumentException",
	ExNullPointer:             "NullPointerException",
	ExIllegalState:            "IllegalStateException",
	ExNetworkMainThread:       "NetworkOnMainThreadException",
	ExUnsupportedOperation:    "UnsupportedOperationException",
	ExServiceSpecific:         "ServiceSpecificException",
	ExParcelable:              "ParcelableException",
	ExTransactionFailedNative: "TransactionFailedException",
}

// RemoteException is an exception reported by the remote side of a
// transaction.
type RemoteException struct {
	Code    int32
	Message string
}

func (e *RemoteException) Error() string {
	name, ok := exceptionNames[e.Code]
	if !ok {
		name = fmt.Sprintf("exception %d", e.Code)
	}
	if e.Message == "" {
		return "remote " + name
	}
	return fmt.Sprintf("remote %s: %s", name, e.Message)
}

// WriteNoException marks a reply as successful.
func (p *Parcel) WriteNoException() {
	p.WriteInt32(ExNone)
}

// WriteException writes an exception reply header. The payload that follows
// is never read by the caller.
func (p *Parcel) WriteException(code int32, message string) {
	p.WriteInt32(code)
	p.WriteString16(message)
	// no remote stack trace
	p.WriteInt32(0)
}

// ReadException reads the reply header. It returns a *RemoteException when
// the remote side reported one and positions the cursor at the payload
// otherwise.
func (p *Parcel) ReadException() error {
	code, err := p.ReadInt32()
	if err != nil {
		return err
	}

	switch code {
	case ExNone:
		return nil
	case ExHasReplyHeader:
		// size includes the size field itself
		size, err := p.ReadInt32()
		if err != nil {
			return err
		}
		if size > 4 {
			return p.Skip(int(size) - 4)
		}
		return nil
	}

	msg, err := p.ReadString16()
	if err != nil {
		return fmt.Errorf("reading exception message: %w", err)
	}
	return &RemoteException{Code: code, Message: msg}
}
