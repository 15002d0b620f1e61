// Package download holds the core data model: the Download record that
// flows between the resolver, the transfer engine, and the rapid pipeline.
package download

import (
	"sync"

	"github.com/beyond-all-reason/pr-downloader/internal/hashchain"
	"github.com/beyond-all-reason/pr-downloader/internal/stagedfile"
	"github.com/google/uuid"
)

// Category enumerates the kind of asset a record names.
type Category int

const (
	CategoryNone Category = iota
	CategoryMap
	CategoryGame
	CategoryEngine
	CategoryEnginePlatform // category string is "engine-<platform>"
	CategoryHTTP
)

// Type distinguishes the acquisition protocol.
type Type int

const (
	TypeHTTP Type = iota
	TypeRapid
)

// State is the per-record state machine: none -> downloading -> (finished |
// failed). downloading -> failed and downloading -> finished are terminal.
type State int

const (
	StateNone State = iota
	StateDownloading
	StateFailed
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateDownloading:
		return "downloading"
	case StateFailed:
		return "failed"
	case StateFinished:
		return "finished"
	default:
		return "none"
	}
}

// Record is the unit of work: a single destination file, how to fetch it,
// and its verification and progress state.
//
// Ownership: a Record is exclusively owned by the resolver;
// the transfer engine borrows it for the duration of a transfer and
// mutates only File, RunningHash, Progress and State. The I/O pool borrows
// shared ownership only through short-lived work closures submitted on the
// record's Handle and returns control via result closures run on the
// resolver's thread — so Record itself needs no internal locking beyond
// the mutex guarding the fields every goroutine can legally touch
// concurrently with the orchestrator (State/Progress), mirroring
// xssnick-tonutils-storage-provider's own sync.RWMutex-guarded Service
// fields.
type Record struct {
	Name         string // destination filesystem path (final, not staged)
	OriginName   string // human-facing identifier (URL, rapid tag, springname)
	Category     Category
	PlatformSlug string // only set when Category == CategoryEnginePlatform
	DLType       Type

	Mirrors []string
	Depends []string

	Size       int64 // exact byte count if known, -1 otherwise
	ApproxSize int64 // >= 1, used for progress when Size is unknown

	ExpectedHash    *hashchain.Digest
	RunningHash     hashchain.Chain
	expectedHashSet bool

	ValidateTLS          bool
	NoCache              bool
	UseETags             bool
	WriteChecksumSidecar bool

	Version string

	mu       sync.Mutex
	state    State
	progress int64
	file     *stagedfile.File

	// AttemptID is minted fresh per transfer attempt for log correlation
	// only; it has no bearing on any invariant or retry counter.
	AttemptID uuid.UUID
}

// NewHTTPRecord builds a Record for the generic HTTPS pipeline: plain bytes
// served as-is, verified (if at all) against a plain MD5 of the body, never
// a gzip-composite one.
func NewHTTPRecord(name, originName string, category Category, mirrors []string) *Record {
	return &Record{
		Name:        name,
		OriginName:  originName,
		Category:    category,
		DLType:      TypeHTTP,
		Mirrors:     mirrors,
		Size:        -1,
		state:       StateNone,
		RunningHash: hashchain.NewMD5(),
	}
}

// NewRapidPoolRecord builds a Record for a single pool object fetched over
// the rapid pipeline's batch-HTTP fallback path: the body on the wire is
// gzip, and expected is the MD5 of the decompressed content, so the record
// always verifies through the gzip-composite chain regardless of how it is
// later routed.
func NewRapidPoolRecord(name, originName string, mirrors []string, expected hashchain.Digest, size int64) *Record {
	r := &Record{
		Name:        name,
		OriginName:  originName,
		Category:    CategoryGame,
		DLType:      TypeHTTP,
		Mirrors:     mirrors,
		Size:        size,
		state:       StateNone,
		RunningHash: hashchain.NewGzip(),
	}
	r.SetExpectedHash(expected)
	return r
}

func (r *Record) SetExpectedHash(d hashchain.Digest) {
	cp := d
	r.ExpectedHash = &cp
	r.expectedHashSet = true
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// transition enforces the monotonic state machine: none -> downloading ->
// (finished | failed), or none -> failed directly; terminal once finished
// or failed.
func (r *Record) transition(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case StateFinished, StateFailed:
		return false
	case StateNone:
		if to != StateDownloading && to != StateFailed {
			return false
		}
	case StateDownloading:
		if to != StateFinished && to != StateFailed {
			return false
		}
	}
	r.state = to
	return true
}

func (r *Record) MarkDownloading() bool { return r.transition(StateDownloading) }
func (r *Record) MarkFinished() bool    { return r.transition(StateFinished) }
func (r *Record) MarkFailed() bool      { return r.transition(StateFailed) }

func (r *Record) Progress() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress
}

func (r *Record) SetProgress(done int64) {
	r.mu.Lock()
	r.progress = done
	r.mu.Unlock()
}

func (r *Record) SetFile(f *stagedfile.File) {
	r.mu.Lock()
	r.file = f
	r.mu.Unlock()
}

func (r *Record) File() *stagedfile.File {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file
}

// HashMatches reports whether the running hash's final digest equals the
// record's expected hash. If no expected hash was set, it trivially
// matches: hash verification only applies to records that opted into it.
func (r *Record) HashMatches() bool {
	if !r.expectedHashSet {
		return true
	}
	if r.RunningHash == nil {
		return false
	}
	return r.RunningHash.Digest().Equal(*r.ExpectedHash)
}
