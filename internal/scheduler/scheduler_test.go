package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachlink/rvcd/common"
)

func frameForPGN(pgn common.PGN) common.Frame {
	dgn := common.NewDGN(3, pgn)
	return common.Frame{ArbitrationID: common.NewArbitrationID(dgn, 0x10), SourceAddr: 0x10}
}

func TestCategorizeExactTable(t *testing.T) {
	require.Equal(t, PriorityCritical, Categorize(common.NewDGN(6, 0x1FECA)))
	require.Equal(t, PriorityHigh, Categorize(common.NewDGN(3, 0x1FF01)))
	require.Equal(t, PriorityNormal, Categorize(common.NewDGN(6, 0x1FFB1)))
}

func TestCategorizeRangeFallback(t *testing.T) {
	require.Equal(t, PriorityLow, Categorize(common.NewDGN(6, 0x1FFA5)))
}

func TestEnqueueDequeueOrdersByPriority(t *testing.T) {
	s := New(100, nil)
	require.True(t, s.Enqueue(frameForPGN(0x1FFB2))) // normal
	require.True(t, s.Enqueue(frameForPGN(0x1FECA))) // critical

	item, ok := s.Dequeue()
	require.True(t, ok)
	require.Equal(t, PriorityCritical, item.Priority)
}

func TestEnqueueDropsOldestOnCriticalFull(t *testing.T) {
	s := New(10, nil) // perClass = 2
	require.True(t, s.Enqueue(frameForPGN(0x1FFB1)))
	require.True(t, s.Enqueue(frameForPGN(0x1FFB1)))

	for i := 0; i < 2; i++ {
		require.True(t, s.Enqueue(frameForPGN(0x1FECA)))
	}
	// Third critical should evict from the lowest non-empty class (normal here).
	require.True(t, s.Enqueue(frameForPGN(0x1FECA)))
	require.Equal(t, 1, s.QueueSizesByPriority()[PriorityNormal])
}

func TestEnqueueDropsNonCriticalWhenFull(t *testing.T) {
	s := New(10, nil) // perClass = 2
	require.True(t, s.Enqueue(frameForPGN(0x1FFB1)))
	require.True(t, s.Enqueue(frameForPGN(0x1FFB1)))
	require.False(t, s.Enqueue(frameForPGN(0x1FFB1)))
}

func TestEnqueueAdmissionCapRejectsBurstAboveClassLimit(t *testing.T) {
	s := New(10000, nil) // большой бюджет очереди, чтобы проверить именно admission-лимит
	allowed := 0
	for i := 0; i < admissionCapPerSecond[PriorityBackground]+5; i++ {
		if s.Enqueue(frameForPGN(0x1FEF2)) { // background
			allowed++
		}
	}
	require.Equal(t, admissionCapPerSecond[PriorityBackground], allowed)
	require.Equal(t, uint64(5), s.Metrics().MessagesRateLimited)
}

func TestEnqueueAdmissionCapUnlimitedForCritical(t *testing.T) {
	s := New(10000, nil)
	for i := 0; i < admissionCapPerSecond[PriorityHigh]+50; i++ {
		require.True(t, s.Enqueue(frameForPGN(0x1FECA))) // critical
	}
	require.Equal(t, uint64(0), s.Metrics().MessagesRateLimited)
}

func TestDrainBatchRespectsLimit(t *testing.T) {
	s := New(100, nil)
	for i := 0; i < 5; i++ {
		s.Enqueue(frameForPGN(0x1FFB1))
	}
	batch := s.DrainBatch(3)
	require.Len(t, batch, 3)
	require.Equal(t, 2, s.TotalQueueSize())
}
