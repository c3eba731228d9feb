package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"vestchain/core/events"
	"vestchain/crypto"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	store, err := New(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, db
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestStoreRecordsAndFilters(t *testing.T) {
	store, _ := newTestStore(t)
	alice, bob := addr(1), addr(2)

	store.Emit(events.TokenReserved{Beneficiary: alice, Amount: big.NewInt(100), Total: big.NewInt(100), Timestamp: 10})
	store.Emit(events.TokenReserved{Beneficiary: bob, Amount: big.NewInt(50), Total: big.NewInt(150), Timestamp: 11})
	store.Emit(events.TokenClaimed{Beneficiary: alice, Amount: big.NewInt(5), Claimed: big.NewInt(5), Timestamp: 12})

	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, rec := range all {
		require.Equal(t, uint64(i+1), rec.Sequence)
	}

	aliceAddr := crypto.AddressFromArray(alice).String()
	mine, err := store.List(context.Background(), Filter{Beneficiary: aliceAddr})
	require.NoError(t, err)
	require.Len(t, mine, 2)

	claims, err := store.List(context.Background(), Filter{Type: events.TypeVestingClaimed})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, "5", claims[0].Amount)

	evt, err := claims[0].Event()
	require.NoError(t, err)
	require.Equal(t, "5", evt.Attr("claimed"))

	page, err := store.List(context.Background(), Filter{After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, uint64(2), page[0].Sequence)
}

func TestStoreResumesSequence(t *testing.T) {
	store, db := newTestStore(t)
	store.Emit(events.FundsWithdrawn{Treasury: addr(3), Amount: big.NewInt(7), Timestamp: 1})

	reopened, err := New(db, nil)
	require.NoError(t, err)
	reopened.Emit(events.FundsWithdrawn{Treasury: addr(3), Amount: big.NewInt(8), Timestamp: 2})

	all, err := reopened.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, uint64(2), all[1].Sequence)
	require.Equal(t, crypto.AddressFromArray(addr(3)).String(), all[1].Beneficiary)
}

func TestStoreSubscribe(t *testing.T) {
	store, _ := newTestStore(t)
	feed, cancel := store.Subscribe()

	store.Emit(events.ActionScheduled{ID: [32]byte{1}, Kind: "reserve", Beneficiary: addr(4), Amount: big.NewInt(9)})

	select {
	case rec := <-feed:
		require.Equal(t, events.TypeVestingActionScheduled, rec.Type)
		require.NotEmpty(t, rec.ActionID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	cancel()
	_, open := <-feed
	require.False(t, open)
}

func TestRecordJSONInlinesAttributes(t *testing.T) {
	store, _ := newTestStore(t)
	rec, err := store.Record(context.Background(), events.RoleChanged{Account: addr(5), Role: "manager", Actor: addr(6), Granted: true}.Event())
	require.NoError(t, err)

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	attrs, ok := decoded["attributes"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "manager", attrs["role"])
	require.Equal(t, events.TypeVestingRoleGranted, decoded["type"])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "", nil)
	require.ErrorIs(t, err, ErrUnsupportedDriver)
}
