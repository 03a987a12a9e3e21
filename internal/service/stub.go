package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/brianly1003/adid/internal/adid"
	"github.com/brianly1003/adid/internal/binder"
	"github.com/brianly1003/adid/internal/binder/parcel"
)

// Stub answers the advertising id contract from a Store.
type Stub struct {
	store *Store
	token string
}

// NewStub creates a stub serving store under the given interface token. An
// empty token selects adid.InterfaceToken.
func NewStub(store *Store, token string) *Stub {
	if token == "" {
		token = adid.InterfaceToken
	}
	return &Stub{store: store, token: token}
}

// Transact implements binder.Binder.
func (s *Stub) Transact(ctx context.Context, code uint32, data, reply *parcel.Parcel, flags uint32) error {
	if code < binder.FirstCallTransaction || code > binder.LastCallTransaction {
		log.Warn().Uint32("code", code).Msg("transaction code outside the user range")
		return binder.ErrUnknownTransaction
	}
	if code != adid.TransactionGetID && code != adid.TransactionIsLimitAdTrackingEnabled {
		log.Debug().Uint32("code", code).Msg("transaction not part of the advertising id contract")
		return binder.ErrUnknownTransaction
	}

	if err := data.EnforceInterface(s.token); err != nil {
		log.Warn().Uint32("code", code).Err(err).Msg("rejecting caller with wrong interface token")
		reply.WriteException(parcel.ExSecurity, err.Error())
		return nil
	}

	switch code {
	case adid.TransactionGetID:
		ident, err := s.store.Current(ctx)
		if err != nil {
			reply.WriteException(parcel.ExIllegalState, err.Error())
			return nil
		}
		reply.WriteNoException()
		reply.WriteString16(ident.ID)

	case adid.TransactionIsLimitAdTrackingEnabled:
		// the caller's hint is part of the contract but the stored
		// preference wins
		if _, err := data.ReadBool(); err != nil {
			reply.WriteException(parcel.ExIllegalArgument, fmt.Sprintf("reading hint: %v", err))
			return nil
		}
		ident, err := s.store.Current(ctx)
		if err != nil {
			reply.WriteException(parcel.ExIllegalState, err.Error())
			return nil
		}
		reply.WriteNoException()
		reply.WriteBool(ident.LimitTrackingEnabled)
	}
	return nil
}

// Ensure Stub implements binder.Binder.
var _ binder.Binder = (*Stub)(nil)
