// Package resolver orchestrates everything above the transfer engine:
// turning user-supplied search terms into candidates across the rapid and
// HTTP providers, selecting a subset, expanding their transitive
// dependencies, checking disk space, and driving the rapid pipeline then
// the HTTP pipeline to completion before handing finished engine archives
// to an Extractor. Grounded on xssnick-tonutils-storage-provider's
// top-level Service, which plays the same role of gluing its storage
// client, leveldb cache and transfer logic into a single start/stop
// lifecycle.
package resolver

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/beyond-all-reason/pr-downloader/internal/config"
	"github.com/beyond-all-reason/pr-downloader/internal/extract"
	"github.com/beyond-all-reason/pr-downloader/internal/rapid/repo"
	"github.com/beyond-all-reason/pr-downloader/internal/search"
	"github.com/beyond-all-reason/pr-downloader/internal/transfer"
)

// Item is one user-supplied search term: an optional category ("map",
// "game", "engine", or empty/"*" for untyped) and a name.
type Item struct {
	Category string
	Name     string
}

// Exit codes, matching the documented CLI mapping.
const (
	ExitSuccess            = 0
	ExitNothingToDo        = 1
	ExitDownloadFailed     = 2
	ExitInsufficientDisk   = 5
	ExitDependencyNotFound = 6
)

// rapidCandidate pins a Candidate to the repo and versions entry it was
// found in, letting the rapid pipeline fetch it without searching again.
type rapidCandidate struct {
	repoURL string
	entry   repo.VersionEntry
}

// Candidate is one result surfaced by Search, not yet selected for
// download. Exactly one of the two provider-specific fields is set.
type Candidate struct {
	ID       int
	Category string
	Name     string
	Size     int64
	Depends  []string

	rapid *rapidCandidate
	http  *search.Result
}

// Options configures a new Resolver. Every field beyond Config is a shared,
// already-constructed collaborator; Resolver itself holds no process-wide
// state that isn't already owned by one of them.
type Options struct {
	Config       config.Config
	Fs           afero.Fs
	HTTPClient   *http.Client
	SearchClient *search.Client
	Engine       *transfer.Engine
	Index        *repo.Index
	Extractor    extract.Extractor
	Logger       zerolog.Logger

	DisableFetchDepends bool
}

// Resolver is the orchestration layer: search(items), add(id), start().
type Resolver struct {
	cfg       config.Config
	fs        afero.Fs
	http      *http.Client
	searchCli *search.Client
	engine    *transfer.Engine
	index     *repo.Index
	extractor extract.Extractor
	log       zerolog.Logger

	disableFetchDepends bool

	mu         sync.Mutex
	candidates []Candidate
	selected   map[int]bool
}

// New builds a Resolver from opts. A nil Extractor falls back to a no-op,
// keeping real collaborators constructed only at the top level and
// defaulted quietly everywhere else.
func New(opts Options) *Resolver {
	extractor := opts.Extractor
	if extractor == nil {
		extractor = extract.Noop{}
	}
	return &Resolver{
		cfg:                 opts.Config,
		fs:                  opts.Fs,
		http:                opts.HTTPClient,
		searchCli:           opts.SearchClient,
		engine:              opts.Engine,
		index:               opts.Index,
		extractor:           extractor,
		log:                 opts.Logger,
		disableFetchDepends: opts.DisableFetchDepends,
		selected:            make(map[int]bool),
	}
}

// Add marks a previously surfaced candidate, by the ID Search assigned it,
// as selected for Start.
func (r *Resolver) Add(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.candidates) {
		return errNoSuchCandidate(id)
	}
	r.selected[id] = true
	return nil
}

// Candidates returns every candidate surfaced so far, for callers (such as
// the CLI) that need to print them before deciding what to Add.
func (r *Resolver) Candidates() []Candidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}
