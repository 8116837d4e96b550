package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/offset"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/MuchTitan/go-log-shipper/internal/tail"
	"github.com/sirupsen/logrus"
)

// Tailer reads the unshipped part of a file.
type Tailer interface {
	ReadSince(path string, offset int64, last internal.Signature) (tail.Status, *internal.Chunk, error)
}

// FileLister returns the files to ship this tick.
type FileLister func() ([]string, error)

// TickerFunc starts a periodic tick source and returns its channel and a stop function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

func RealTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type FailurePolicy string

const (
	// PolicySkip commits past a permanently rejected chunk.
	PolicySkip FailurePolicy = "skip"
	// PolicyRetry keeps offering a rejected chunk every tick.
	PolicyRetry FailurePolicy = "retry"
)

type Options struct {
	Interval         time.Duration
	PermanentFailure FailurePolicy
	// ShutdownGrace bounds how long Stop waits for in-flight uploads before cancelling them.
	ShutdownGrace time.Duration
	// Retention prunes positions not updated for this long on Stop. 0 disables pruning.
	Retention time.Duration
	Ticker    TickerFunc
}

type fileState struct {
	id        string
	offset    int64
	signature internal.Signature
	pending   bool // delivered but not yet persisted
	busy      bool
}

// Engine runs ship cycles: every tick each tracked file is tailed, uploaded and committed.
type Engine struct {
	store     offset.Store
	tailer    Tailer
	uploader  output.Uploader
	listFiles FileLister
	opts      Options

	mu     sync.Mutex
	files  map[string]*fileState
	loaded bool

	inflight sync.WaitGroup
	loop     sync.WaitGroup
	cancel   context.CancelFunc

	// uploads outlive the run context so shutdown lets them finish.
	uploadCtx    context.Context
	cancelUpload context.CancelFunc
}

func NewEngine(store offset.Store, tailer Tailer, uploader output.Uploader, lister FileLister, opts Options) *Engine {
	if opts.PermanentFailure == "" {
		opts.PermanentFailure = PolicySkip
	}
	if opts.Ticker == nil {
		opts.Ticker = RealTicker
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = output.DefaultUploadTimeout + 5*time.Second
	}

	uploadCtx, cancelUpload := context.WithCancel(context.Background())
	return &Engine{
		store:        store,
		tailer:       tailer,
		uploader:     uploader,
		listFiles:    lister,
		opts:         opts,
		files:        make(map[string]*fileState),
		uploadCtx:    uploadCtx,
		cancelUpload: cancelUpload,
	}
}

// Load reads the persisted positions. It runs once; later calls are no-ops.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded {
		return nil
	}

	record, err := e.store.Load(ctx)
	if err != nil {
		return err
	}
	for id, pos := range record {
		e.files[id] = &fileState{
			id:        id,
			offset:    pos.Offset,
			signature: pos.Signature,
		}
	}
	e.loaded = true

	logrus.WithField("files", len(record)).Debug("Loaded shipped offsets")
	return nil
}

// Start loads the positions and runs a tick every Interval until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	if e.opts.Interval <= 0 {
		return errors.New("ship interval must be positive")
	}
	if err := e.Load(ctx); err != nil {
		return err
	}

	ctx, e.cancel = context.WithCancel(ctx)
	ticks, stop := e.opts.Ticker(e.opts.Interval)

	logrus.WithField("interval", e.opts.Interval.String()).Info("Starting ship cycle")

	e.loop.Add(1)
	go func() {
		defer e.loop.Done()
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticks:
				e.Tick(ctx)
			}
		}
	}()
	return nil
}

// Tick starts one cycle for every tracked file that has no cycle in flight. It does not wait
// for the cycles; a file still busy from an earlier tick is skipped, not queued.
func (e *Engine) Tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	paths, err := e.listFiles()
	if err != nil {
		logrus.WithError(err).Warn("could not list tracked files")
	}

	for _, st := range e.claim(paths) {
		go func(st *fileState) {
			defer e.release(st)
			e.ship(st)
		}(st)
	}
}

// RunOnce runs a tick and waits until every cycle it started has finished.
func (e *Engine) RunOnce(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return err
	}
	e.Tick(ctx)
	e.inflight.Wait()
	return nil
}

// claim marks the listed files plus any file with a pending commit as busy and returns them.
func (e *Engine) claim(paths []string) []*fileState {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool, len(paths))
	var claimed []*fileState

	take := func(st *fileState) {
		if st.busy {
			logrus.WithField("file", st.id).Debug("previous cycle still running, skipping tick")
			return
		}
		st.busy = true
		e.inflight.Add(1)
		claimed = append(claimed, st)
	}

	for _, path := range paths {
		if seen[path] {
			continue
		}
		seen[path] = true
		st, ok := e.files[path]
		if !ok {
			st = &fileState{id: path}
			e.files[path] = st
		}
		take(st)
	}
	for id, st := range e.files {
		if st.pending && !seen[id] {
			take(st)
		}
	}
	return claimed
}

func (e *Engine) release(st *fileState) {
	e.mu.Lock()
	st.busy = false
	e.mu.Unlock()
	e.inflight.Done()
}

// ship runs tail, upload and commit for one file. Only the goroutine that claimed st mutates it.
func (e *Engine) ship(st *fileState) {
	ctx := e.uploadCtx
	log := logrus.WithField("file", st.id)

	if st.pending {
		if err := e.commit(ctx, st); err != nil {
			log.WithError(err).Warn("retrying offset commit failed")
		}
	}

	status, chunk, err := e.tailer.ReadSince(st.id, st.offset, st.signature)
	if err != nil {
		log.WithError(err).Warn("could not read tracked file")
		return
	}

	switch status {
	case tail.NoNewData:
		return
	case tail.Rotated:
		// Rotated always comes with a chunk; its Data is empty when the new file is.
		log.WithFields(logrus.Fields{
			"previousOffset": st.offset,
			"size":           chunk.Signature.Size,
		}).Info("file rotated, shipping from the beginning")
		e.set(st, 0, internal.Signature{Inode: chunk.Signature.Inode})
		if len(chunk.Data) == 0 {
			return
		}
	}

	res := e.uploader.Send(ctx, chunk)
	fields := logrus.Fields{
		"uploader": e.uploader.Name(),
		"start":    chunk.Start,
		"end":      chunk.End(),
	}

	switch res.Kind {
	case output.Delivered:
		log.WithFields(fields).WithField("accepted", res.Accepted).Debug("chunk delivered")
		e.advance(ctx, st, chunk, res.Accepted)
	case output.TransientFailure:
		log.WithFields(fields).WithError(res.Err).Warn("upload failed, retrying next tick")
	case output.PermanentFailure:
		if e.opts.PermanentFailure == PolicyRetry {
			log.WithFields(fields).WithError(res.Err).Error("upload rejected, retrying next tick")
			return
		}
		log.WithFields(fields).WithError(res.Err).Error("upload rejected, dropping chunk")
		e.advance(ctx, st, chunk, int64(len(chunk.Data)))
	}
}

// advance moves the in-memory offset past n accepted bytes and persists it.
func (e *Engine) advance(ctx context.Context, st *fileState, chunk *internal.Chunk, n int64) {
	n = max(0, min(n, int64(len(chunk.Data))))
	newOffset := chunk.Start + n

	sig := chunk.Signature
	if sig.HeadLen > newOffset {
		sig.Head = ""
		sig.HeadLen = 0
	}

	e.mu.Lock()
	st.offset = newOffset
	st.signature = sig
	st.pending = true
	e.mu.Unlock()

	if err := e.commit(ctx, st); err != nil {
		logrus.WithField("file", st.id).WithError(err).Warn("could not persist offset, retrying next tick")
	}
}

func (e *Engine) commit(ctx context.Context, st *fileState) error {
	pos := internal.Position{
		Offset:    st.offset,
		Signature: st.signature,
		UpdatedAt: time.Now().UTC(),
	}
	if err := e.store.Commit(ctx, st.id, pos); err != nil {
		return err
	}
	e.mu.Lock()
	st.pending = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) set(st *fileState, offset int64, sig internal.Signature) {
	e.mu.Lock()
	st.offset = offset
	st.signature = sig
	e.mu.Unlock()
}

// Offset returns the in-memory confirmed offset of a file.
func (e *Engine) Offset(id string) (int64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.files[id]
	if !ok {
		return 0, false
	}
	return st.offset, true
}

// Stop ends the tick loop, waits for in-flight cycles, prunes stale positions and closes the
// store and uploader.
func (e *Engine) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	e.loop.Wait()

	done := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.opts.ShutdownGrace):
		logrus.Warn("in-flight uploads did not finish in time, cancelling")
		e.cancelUpload()
		<-done
	}
	e.cancelUpload()

	var errs []error
	if e.opts.Retention > 0 {
		removed, err := e.store.Prune(context.Background(), time.Now().Add(-e.opts.Retention))
		if err != nil {
			errs = append(errs, err)
		} else if removed > 0 {
			logrus.WithField("removed", removed).Debug("pruned stale offsets")
		}
	}
	if err := e.uploader.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
