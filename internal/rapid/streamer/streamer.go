// Package streamer implements the rapid protocol's two pool-fetching
// paths: the default streamer.cgi endpoint, which demultiplexes every
// requested pool object out of a single response body, and the batch-HTTP
// fallback, which fetches each pool object as its own GET through the
// transfer engine. Grounded on original_source's Downloader/Rapid
// streaming client and on xssnick-tonutils-storage-provider's own
// single-POST request idiom in pkg/storage/client.go, generalized here
// from a JSON body to a gzipped bitset and from a JSON response to a
// length-prefixed binary stream.
package streamer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/rapid/sdp"
)

const chunkBufferSize = 32 * 1024

// StreamURL builds the streamer.cgi URL for an SDP descriptor, per the
// "POST <repo>/streamer.cgi?<sdp_md5>" protocol.
func StreamURL(repoURL string, file *sdp.File) string {
	return strings.TrimRight(repoURL, "/") + "/streamer.cgi?" + file.MD5.String()
}

// BuildBitsetRequest gzips a bitset naming which of file's entries (by
// index) are wanted: entry j's bit lives at byte[j/8] & (1 << (j%8)).
func BuildBitsetRequest(file *sdp.File, wanted []int) ([]byte, error) {
	n := len(file.Entries)
	bitset := make([]byte, (n+7)/8)
	for _, idx := range wanted {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("streamer: wanted index %d out of range for %d entries", idx, n)
		}
		bitset[idx/8] |= 1 << (idx % 8)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(bitset); err != nil {
		return nil, fmt.Errorf("streamer: gzip bitset: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("streamer: gzip bitset: %w", err)
	}
	return buf.Bytes(), nil
}

// Fetch requests the pool objects named by wanted (indices into
// file.Entries, any order) over a single streamer.cgi POST, demultiplexing
// the response directly into poolRoot. wanted is sorted into SDP order
// before the request is built, since the server replies in that order.
func Fetch(ctx context.Context, client *http.Client, fs afero.Fs, repoURL, poolRoot string, file *sdp.File, wanted []int) error {
	ordered := make([]int, len(wanted))
	copy(ordered, wanted)
	sort.Ints(ordered)

	body, err := BuildBitsetRequest(file, ordered)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, StreamURL(repoURL, file), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("streamer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "gzip")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("streamer: post to %s: %w", repoURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("streamer: unexpected status %s from %s", resp.Status, repoURL)
	}

	entries := make([]sdp.Entry, len(ordered))
	for i, idx := range ordered {
		entries[i] = file.Entries[idx]
	}

	dem := NewDemuxer(fs, poolRoot, entries)
	buf := make([]byte, chunkBufferSize)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if err := dem.Feed(buf[:n]); err != nil {
				return err
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return fmt.Errorf("streamer: read response from %s: %w", repoURL, rerr)
		}
	}
	if !dem.Done() {
		return fmt.Errorf("streamer: response from %s ended with %d of %d requested files unfinished", repoURL, dem.Remaining(), len(entries))
	}
	return nil
}
