package temporal

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/jsbattig/code-indexer-sub009/internal/coreerrors"
)

// availableMemoryBytes reports free+reclaimable system memory. Linux
// only exposes this cheaply via /proc/meminfo's MemAvailable field (the
// kernel's own estimate of memory available for new allocations without
// swapping); other platforms report "unknown, assume plenty" via the
// fixed 1 TiB constant below, since
// this system's only deployment target in the retrieved corpus runs on
// Linux. No third-party system-info library appears anywhere in the
// retrieved pack for this narrow a concern, so this is hand-rolled
// against /proc directly rather than adding a new out-of-corpus
// dependency for one stat.
func availableMemoryBytes() (uint64, error) {
	if runtime.GOOS != "linux" {
		return 1 << 40, nil // 1TiB: no cheap signal, assume no pressure
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, scanner.Err()
}

// BatchSizer decides, per spec.md §4.7's memory discipline, whether the
// next batch of size batchSize blobs may proceed at full size, must be
// halved, or must be refused outright.
type BatchSizer struct {
	HalveBelowBytes  uint64
	RefuseBelowBytes uint64
}

// NextBatchSize inspects available memory and returns the batch size to
// actually use, halving it when available memory drops below
// HalveBelowBytes and returning InsufficientMemory when it drops below
// RefuseBelowBytes.
func (b BatchSizer) NextBatchSize(requested int) (int, error) {
	avail, err := availableMemoryBytes()
	if err != nil {
		return requested, nil // can't measure: proceed rather than block indexing
	}
	if avail < b.RefuseBelowBytes {
		return 0, coreerrors.InsufficientMemory(avail, b.RefuseBelowBytes)
	}
	if avail < b.HalveBelowBytes {
		halved := requested / 2
		if halved < 1 {
			halved = 1
		}
		return halved, nil
	}
	return requested, nil
}
