package repository_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/nodewatch/pkg/clock"
	"github.com/cuemby/nodewatch/pkg/node"
	"github.com/cuemby/nodewatch/pkg/repository"
)

func newRepo() *repository.InMemoryRepository {
	return repository.NewInMemoryRepository(clock.NewFakeAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestInMemoryRepository_GetNodeNotFound(t *testing.T) {
	repo := newRepo()
	_, err := repo.GetNode("missing")
	require.Error(t, err)
	var nfe *repository.NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestInMemoryRepository_FailRecordsHistoryAndIncrementsCount(t *testing.T) {
	repo := newRepo()
	repo.Seed(&node.Node{Hostname: "n1", Type: node.TypeTenant, State: node.StateReady})

	n, err := repo.Fail("n1", "system", "dead")
	require.NoError(t, err)
	assert.Equal(t, node.StateFailed, n.State)
	assert.Equal(t, 1, n.Status.FailCount)
	assert.True(t, n.History.Has(node.EventFailed))

	n2, err := repo.Fail("n1", "system", "dead again")
	require.NoError(t, err)
	assert.Equal(t, 2, n2.Status.FailCount, "fail count accumulates across repeated failures")
}

func TestInMemoryRepository_SetDirtyDoesNotResetFailCount(t *testing.T) {
	repo := newRepo()
	repo.Seed(&node.Node{Hostname: "n1", Type: node.TypeTenant, State: node.StateReady})
	_, err := repo.Fail("n1", "system", "dead")
	require.NoError(t, err)

	require.NoError(t, repo.SetDirty([]string{"n1"}))

	n, err := repo.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, node.StateDirty, n.State)
	assert.Equal(t, 1, n.Status.FailCount, "recycling to dirty must not reset the fail count")
}

func TestInMemoryRepository_ParkAndReactivate(t *testing.T) {
	repo := newRepo()
	repo.Seed(&node.Node{Hostname: "n1", Type: node.TypeHost, State: node.StateFailed})

	require.NoError(t, repo.Park("n1", "expirer", "hardware"))
	n, err := repo.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, node.StateParked, n.State)

	require.NoError(t, repo.Reactivate("n1", "system"))
	n, err = repo.GetNode("n1")
	require.NoError(t, err)
	assert.Equal(t, node.StateActive, n.State)
	assert.True(t, n.History.Has(node.EventActivated))
}

func TestInMemoryRepository_RemoveRecursivelyDeletesChildren(t *testing.T) {
	repo := newRepo()
	repo.Seed(
		&node.Node{Hostname: "host-1", Type: node.TypeHost, State: node.StateActive},
		&node.Node{Hostname: "child-1", Type: node.TypeTenant, ParentHostname: "host-1"},
		&node.Node{Hostname: "child-2", Type: node.TypeTenant, ParentHostname: "host-1"},
		&node.Node{Hostname: "host-2", Type: node.TypeHost, State: node.StateActive},
	)

	require.NoError(t, repo.RemoveRecursively("host-1"))

	_, err := repo.GetNode("host-1")
	assert.Error(t, err)
	_, err = repo.GetNode("child-1")
	assert.Error(t, err)
	_, err = repo.GetNode("child-2")
	assert.Error(t, err)

	_, err = repo.GetNode("host-2")
	assert.NoError(t, err, "unrelated nodes must survive a recursive removal")
}

func TestInMemoryRepository_GetNodesFiltersByTypeAndState(t *testing.T) {
	repo := newRepo()
	repo.Seed(
		&node.Node{Hostname: "ready-tenant", Type: node.TypeTenant, State: node.StateReady},
		&node.Node{Hostname: "active-tenant", Type: node.TypeTenant, State: node.StateActive},
		&node.Node{Hostname: "ready-host", Type: node.TypeHost, State: node.StateReady},
	)

	readyTenants, err := repo.GetNodes(repository.ByTypeAndState(node.TypeTenant, node.StateReady))
	require.NoError(t, err)
	require.Len(t, readyTenants, 1)
	assert.Equal(t, "ready-tenant", readyTenants[0].Hostname)

	ready, err := repo.GetNodes(repository.ByState(node.StateReady))
	require.NoError(t, err)
	assert.Len(t, ready, 2)
}

func TestInMemoryRepository_LockApplicationIsExclusivePerKey(t *testing.T) {
	repo := newRepo()

	unlockA := repo.LockApplication("app-1")
	acquired := make(chan struct{})
	go func() {
		unlockOther := repo.LockApplication("app-1")
		close(acquired)
		unlockOther()
	}()

	select {
	case <-acquired:
		t.Fatal("second LockApplication(\"app-1\") must block while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	<-acquired
}

func TestInMemoryRepository_LockApplicationDoesNotBlockDifferentKeys(t *testing.T) {
	repo := newRepo()

	unlockA := repo.LockApplication("app-1")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := repo.LockApplication("app-2")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("locking a different application ID must not block on app-1's lock")
	}
}
