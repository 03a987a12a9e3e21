package adid

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
	"github.com/brianly1003/adid/internal/domain"
)

// InterfaceToken names the remote advertising id contract.
const InterfaceToken = "com.google.android.gms.ads.identifier.internal.IAdvertisingIdService"

// Transaction codes of the advertising id contract.
const (
	TransactionGetID                    = binder.FirstCallTransaction
	TransactionIsLimitAdTrackingEnabled = binder.FirstCallTransaction + 1
)

// IdentifierClient speaks the advertising id contract over a bound service.
type IdentifierClient struct {
	remote binder.Binder
	token  string
}

// NewIdentifierClient creates a client for remote that presents token with
// every call. An empty token selects InterfaceToken.
func NewIdentifierClient(remote binder.Binder, token string) *IdentifierClient {
	if token == "" {
		token = InterfaceToken
	}
	return &IdentifierClient{remote: remote, token: token}
}

// ID returns the advertising identifier. A null identifier reads as "".
func (c *IdentifierClient) ID(ctx context.Context) (string, error) {
	var id string
	err := c.transact(ctx, "getId", TransactionGetID, nil, func(reply *parcel.Parcel) error {
		var err error
		id, err = reply.ReadString16()
		return err
	})
	return id, err
}

// IsLimitTrackingEnabled reports whether the user opted out of ad tracking.
// hint is sent as the contract's boolean argument.
func (c *IdentifierClient) IsLimitTrackingEnabled(ctx context.Context, hint bool) (bool, error) {
	var enabled bool
	err := c.transact(ctx, "isLimitAdTrackingEnabled", TransactionIsLimitAdTrackingEnabled,
		func(data *parcel.Parcel) {
			data.WriteBool(hint)
		},
		func(reply *parcel.Parcel) error {
			var err error
			enabled, err = reply.ReadBool()
			return err
		})
	return enabled, err
}

// transact runs one call: obtain both parcels, write the token and
// arguments, transact, check the exception header, read the payload. Both
// parcels are recycled on every path.
func (c *IdentifierClient) transact(ctx context.Context, op string, code uint32,
	write func(*parcel.Parcel), read func(*parcel.Parcel) error) error {
	data := parcel.Obtain()
	defer data.Recycle()
	reply := parcel.Obtain()
	defer reply.Recycle()

	data.WriteInterfaceToken(c.token)
	if write != nil {
		write(data)
	}

	if err := c.remote.Transact(ctx, code, data, reply, 0); err != nil {
		return domain.NewRemoteCallError(op, code, err)
	}
	if err := reply.ReadException(); err != nil {
		return domain.NewRemoteCallError(op, code, err)
	}
	if err := read(reply); err != nil {
		return domain.NewRemoteCallError(op, code, fmt.Errorf("decoding reply: %w", err))
	}

	log.Debug().
		Str("op", op).
		Uint32("code", code).
		Int("reply_bytes", reply.Len()).
		Msg("advertising id transaction complete")
	return nil
}
