package streamer

import (
	"strings"

	"github.com/beyond-all-reason/pr-downloader/internal/download"
	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
)

// BatchParallelism is the MaxParallel the resolver passes to the transfer
// engine when falling back to individual pool-object GETs instead of a
// streamer.cgi session: pool objects are small and plentiful, so the batch
// path leans on a much higher fan-out than the generic HTTP pipeline uses
// for maps and engines.
const BatchParallelism = 100

// BatchRecords builds one Download record per distinct pool object named
// by entries, deduplicated by MD5 since the same object is often shared by
// several files in a package. Each record's running hash is the
// gzip-composite chain, so the on-disk gzipped pool object is verified
// against the entry's MD5 without ever decompressing it to a scratch file.
func BatchRecords(repoURL, poolRoot string, entries []sdp.Entry) []*download.Record {
	seen := make(map[hashchain.Digest]bool, len(entries))
	recs := make([]*download.Record, 0, len(entries))
	for _, e := range entries {
		if seen[e.MD5] {
			continue
		}
		seen[e.MD5] = true

		hex := e.MD5.String()
		mirror := strings.TrimRight(repoURL, "/") + "/pool/" + hex[:2] + "/" + hex[2:] + ".gz"
		rec := download.NewRapidPoolRecord(sdp.PoolPath(poolRoot, e.MD5), e.Name, []string{mirror}, e.MD5, -1)
		rec.ApproxSize = int64(e.Size)
		recs = append(recs, rec)
	}
	return recs
}
