package reorg

import "github.com/chainwatch/core/internal/metrics"

func reorgDetected(depth uint64) {
	metrics.ReorgDetectedInc()
	metrics.ReorgDepthLog(depth)
}
