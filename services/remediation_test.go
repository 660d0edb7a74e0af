package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-portal/models"
)

func TestRaiseQueuesItem(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := NewRemediationLog(db, nil, "ops", time.Hour)

	mock.Regexp().ExpectLPush(remediationKey, `.*provisioning_failure.*`).SetVal(1)
	mock.ExpectExpire(remediationKey, time.Hour).SetVal(true)

	log.Raise(context.Background(), models.RemediationItem{
		Kind:     "provisioning_failure",
		TicketID: "tkt_1",
		Username: "wifi001",
		Detail:   "router unreachable",
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListReturnsNewestFirst(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := NewRemediationLog(db, nil, "ops", time.Hour)

	newest, err := json.Marshal(models.RemediationItem{Kind: "drift_unknown_on_router", Username: "stray"})
	require.NoError(t, err)
	older, err := json.Marshal(models.RemediationItem{Kind: "provisioning_failure", Username: "wifi001"})
	require.NoError(t, err)

	mock.ExpectLRange(remediationKey, 0, 49).SetVal([]string{string(newest), string(older)})

	items, err := log.List(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "drift_unknown_on_router", items[0].Kind)
	assert.Equal(t, "provisioning_failure", items[1].Kind)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSkipsCorruptEntries(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := NewRemediationLog(db, nil, "ops", time.Hour)

	valid, err := json.Marshal(models.RemediationItem{Kind: "provisioning_failure"})
	require.NoError(t, err)

	mock.ExpectLRange(remediationKey, 0, 9).SetVal([]string{"not-json", string(valid)})

	items, err := log.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "provisioning_failure", items[0].Kind)
}
