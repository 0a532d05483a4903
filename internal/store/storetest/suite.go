// Package storetest holds behavioural tests every FactStore must pass.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.FactStore

var base = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// NewFact builds a fact received offset after a fixed base time.
func NewFact(externalID string, kind domain.FactKind, offset time.Duration, amount string) *domain.PaymentFact {
	f := &domain.PaymentFact{
		ID:         uuid.NewString(),
		ExternalID: externalID,
		ReceivedAt: base.Add(offset),
		RawSubject: "subject " + externalID,
		RawBody:    "body " + externalID,
		CreatedAt:  base,
		UpdatedAt:  base,
	}
	f.Kind = kind
	if amount != "" {
		v := decimal.NewNullDecimal(decimal.RequireFromString(amount))
		switch kind {
		case domain.KindVirtualCredit:
			f.VirtualAmount = v
		case domain.KindReleaseToBank:
			f.BankCredit = v
		case domain.KindEMIDeduction:
			f.IndifiDeduction = v
		}
	}
	return f
}

// Run exercises the FactStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("insert and query round trip", func(t *testing.T) {
		s := newStore(t)
		f := NewFact("m1", domain.KindVirtualCredit, 0, "2500.50")
		f.TransactionRef = domain.StringPtr("UTR123456")
		f.VirtualCode = domain.StringPtr("INDIFI1234")
		require.NoError(t, s.InsertFact(ctx, f))

		got, err := s.QueryFacts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 1)

		g := got[0]
		assert.Equal(t, f.ID, g.ID)
		assert.Equal(t, "m1", g.ExternalID)
		assert.True(t, f.ReceivedAt.Equal(g.ReceivedAt))
		assert.Equal(t, domain.KindVirtualCredit, g.Kind)
		require.True(t, g.VirtualAmount.Valid)
		assert.True(t, g.VirtualAmount.Decimal.Equal(decimal.RequireFromString("2500.5")))
		assert.False(t, g.BankCredit.Valid)
		assert.False(t, g.IndifiDeduction.Valid)
		assert.Equal(t, "UTR123456", domain.StringValue(g.TransactionRef))
		assert.Equal(t, "INDIFI1234", domain.StringValue(g.VirtualCode))
		assert.Nil(t, g.BankAccount)
		assert.Equal(t, "subject m1", g.RawSubject)
		assert.Equal(t, "body m1", g.RawBody)
	})

	t.Run("duplicate external id conflicts", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertFact(ctx, NewFact("dup", domain.KindVirtualCredit, 0, "600")))
		err := s.InsertFact(ctx, NewFact("dup", domain.KindVirtualCredit, time.Hour, "700"))
		assert.ErrorIs(t, err, store.ErrConflict)

		got, err := s.QueryFacts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].VirtualAmount.Decimal.Equal(decimal.NewFromInt(600)))
	})

	t.Run("concurrent inserts store one row", func(t *testing.T) {
		s := newStore(t)
		const n = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			ok        int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InsertFact(ctx, NewFact("race", domain.KindReleaseToBank, 0, "900"))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, store.ErrConflict):
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, conflicts)
	})

	t.Run("query range is half open and ascending", func(t *testing.T) {
		s := newStore(t)
		for i, id := range []string{"c", "a", "b", "d"} {
			// insert out of time order
			offset := []time.Duration{2 * time.Hour, 0, time.Hour, 3 * time.Hour}[i]
			require.NoError(t, s.InsertFact(ctx, NewFact(id, domain.KindVirtualCredit, offset, "1000")))
		}

		got, err := s.QueryFacts(ctx, base, base.Add(3*time.Hour))
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, f := range got {
			ids = append(ids, f.ExternalID)
		}
		assert.Equal(t, []string{"a", "b", "c"}, ids)
	})

	t.Run("existing external ids", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertFact(ctx, NewFact("x1", domain.KindVirtualCredit, 0, "1000")))
		require.NoError(t, s.InsertFact(ctx, NewFact("x2", domain.KindVirtualCredit, time.Minute, "1000")))

		got, err := s.ExistingExternalIDs(ctx, []string{"x1", "nope", "x2"})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Contains(t, got, "x1")
		assert.Contains(t, got, "x2")

		empty, err := s.ExistingExternalIDs(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("update applies patch without clearing", func(t *testing.T) {
		s := newStore(t)
		f := NewFact("u1", domain.KindUnknown, 0, "")
		f.BankAccount = domain.StringPtr("XXXX1234")
		require.NoError(t, s.InsertFact(ctx, f))

		kind := domain.KindReleaseToBank
		amount := decimal.RequireFromString("1500.25")
		ref := "UTR987654"
		require.NoError(t, s.UpdateFact(ctx, f.ID, domain.FactPatch{
			Kind:           &kind,
			BankCredit:     &amount,
			TransactionRef: &ref,
		}))

		got, err := s.QueryFacts(ctx, time.Time{}, time.Time{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, domain.KindReleaseToBank, got[0].Kind)
		assert.True(t, got[0].BankCredit.Decimal.Equal(amount))
		assert.Equal(t, ref, domain.StringValue(got[0].TransactionRef))
		assert.Equal(t, "XXXX1234", domain.StringValue(got[0].BankAccount))
	})

	t.Run("update missing fact", func(t *testing.T) {
		s := newStore(t)
		ref := "UTR987654"
		err := s.UpdateFact(ctx, "missing", domain.FactPatch{TransactionRef: &ref})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list incomplete facts", func(t *testing.T) {
		s := newStore(t)
		complete := NewFact("done", domain.KindVirtualCredit, 0, "1000")
		complete.TransactionRef = domain.StringPtr("UTR111111")
		require.NoError(t, s.InsertFact(ctx, complete))

		noAmount := NewFact("no-amount", domain.KindVirtualCredit, time.Hour, "")
		noAmount.TransactionRef = domain.StringPtr("UTR222222")
		require.NoError(t, s.InsertFact(ctx, noAmount))

		require.NoError(t, s.InsertFact(ctx, NewFact("no-ref", domain.KindReleaseToBank, 2*time.Hour, "900")))

		unknown := NewFact("unknown", domain.KindUnknown, 3*time.Hour, "")
		unknown.TransactionRef = domain.StringPtr("UTR333333")
		require.NoError(t, s.InsertFact(ctx, unknown))

		got, err := s.ListIncompleteFacts(ctx, 10)
		require.NoError(t, err)
		ids := make([]string, 0, len(got))
		for _, f := range got {
			ids = append(ids, f.ExternalID)
		}
		assert.Equal(t, []string{"no-amount", "no-ref", "unknown"}, ids)

		limited, err := s.ListIncompleteFacts(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("reparsed facts move behind untried ones", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.InsertFact(ctx, NewFact("old-1", domain.KindUnknown, 0, "")))
		require.NoError(t, s.InsertFact(ctx, NewFact("old-2", domain.KindUnknown, time.Hour, "")))
		require.NoError(t, s.InsertFact(ctx, NewFact("new", domain.KindUnknown, 2*time.Hour, "")))

		first, err := s.ListIncompleteFacts(ctx, 2)
		require.NoError(t, err)
		require.Len(t, first, 2)
		assert.Equal(t, "old-1", first[0].ExternalID)
		assert.Nil(t, first[0].ReparsedAt)

		at := base.Add(24 * time.Hour)
		require.NoError(t, s.MarkReparsed(ctx, []string{first[0].ID, first[1].ID, "missing"}, at))

		next, err := s.ListIncompleteFacts(ctx, 2)
		require.NoError(t, err)
		require.Len(t, next, 2)
		assert.Equal(t, "new", next[0].ExternalID)
		assert.Equal(t, "old-1", next[1].ExternalID)
		require.NotNil(t, next[1].ReparsedAt)
		assert.True(t, next[1].ReparsedAt.Equal(at))

		require.NoError(t, s.MarkReparsed(ctx, []string{next[0].ID}, at.Add(time.Hour)))
		rotated, err := s.ListIncompleteFacts(ctx, 3)
		require.NoError(t, err)
		ids := make([]string, 0, len(rotated))
		for _, f := range rotated {
			ids = append(ids, f.ExternalID)
		}
		assert.Equal(t, []string{"old-1", "old-2", "new"}, ids)
	})
}
