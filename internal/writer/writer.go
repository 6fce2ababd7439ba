// Package writer implements the durable packet writer (§4.G): chunked
// multipart upload to an S3-compatible object store, with compression
// forced into independently-decodable blocks so the viewer can fetch a
// single packet's bytes without downloading the whole file.
//
// A Writer owns one File per packet thread (packet-thread-local, per §5's
// ownership discipline); completed part buffers are handed to a small
// pool of upload worker goroutines standing in for the writer-s3.c
// plugin's libcurl-backed HTTP client threads.
package writer

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/arkime-go/capture/cfg"
	"github.com/arkime-go/capture/internal/packetpool"
	"github.com/arkime-go/capture/printer"
)

// uploadJob is one part buffer handed off to the upload worker pool.
// partNumber is fixed at enqueue time (see enqueueReadyParts) so it always
// reflects the chunk's position in the file regardless of which worker
// goroutine ends up sending it or in what order sends complete.
type uploadJob struct {
	file       *File
	data       []byte
	partNumber int32
}

// Writer coordinates every packet thread's active File plus the shared
// S3 uploader and its worker pool.
type Writer struct {
	cfg      cfg.Config
	uploader *Uploader

	mu    sync.Mutex
	files map[int]*File // keyed by packet-thread index

	linkType uint32
	snapLen  uint32

	ignoreErrors bool

	inFlight int32 // atomic: number of in-flight part PUT/complete requests
	queued   int32 // atomic: number of part buffers queued but not yet sent

	jobs chan uploadJob
	wg   sync.WaitGroup

	StopSaving func(threadIdx int) bool // not consulted by WritePacket; the engine checks Session.StopSaving before calling it
}

// New creates a Writer with numWorkers background upload goroutines.
// linkType/snapLen are recorded into each file's pcap global header.
func New(c cfg.Config, uploader *Uploader, linkType, snapLen uint32, numWorkers int, ignoreErrors bool) *Writer {
	if numWorkers < 1 {
		numWorkers = 1
	}
	w := &Writer{
		cfg:          c,
		uploader:     uploader,
		files:        make(map[int]*File),
		linkType:     linkType,
		snapLen:      snapLen,
		ignoreErrors: ignoreErrors,
		jobs:         make(chan uploadJob, c.S3MaxRequests),
	}
	for i := 0; i < numWorkers; i++ {
		w.wg.Add(1)
		go w.runWorker()
	}
	return w
}

func (w *Writer) runWorker() {
	defer w.wg.Done()
	for job := range w.jobs {
		atomic.AddInt32(&w.queued, -1)
		atomic.AddInt32(&w.inFlight, 1)
		w.processJob(job)
		atomic.AddInt32(&w.inFlight, -1)
	}
}

// processJob uploads one part, initializing the file's multipart upload
// on first use (via sync.Once, so concurrent workers racing on the same
// file's first job never issue two CreateMultipartUpload calls) and
// aborting the upload on first failure (also via sync.Once) so later
// parts for the same file stop pretending the upload is still alive.
func (w *Writer) processJob(job uploadJob) {
	f := job.file
	f.beginOnce.Do(func() {
		id, err := w.uploader.Begin(context.Background(), f.key)
		if err != nil {
			f.beginErr = err
			return
		}
		f.uploadID = id
	})

	if f.beginErr != nil {
		w.reportUploadError(f, f.beginErr)
		w.mu.Lock()
		f.failed = true
		f.settled++
		w.mu.Unlock()
		return
	}

	part, err := w.uploader.PutPart(context.Background(), f.key, f.uploadID, job.partNumber, job.data)

	w.mu.Lock()
	if err != nil {
		f.failed = true
	} else {
		f.parts = append(f.parts, part)
	}
	f.settled++
	w.mu.Unlock()

	if err != nil {
		w.reportUploadError(f, err)
		f.abortOnce.Do(func() {
			if abortErr := w.uploader.Abort(context.Background(), f.key, f.uploadID); abortErr != nil {
				printer.Errorf("writer: abort failed for %s: %v\n", f.key, abortErr)
			}
		})
	}
}

func (w *Writer) reportUploadError(f *File, err error) {
	printer.Errorf("writer: part upload failed for %s: %v\n", f.key, err)
	// §7 "I/O failure on writer": the file is abandoned on the sender
	// side; the packet stream itself is unaffected and ignoreErrors only
	// governs whether startup-time config problems also degrade to
	// warnings, not this per-part failure.
}

// currentFile returns (creating if absent) the active File for a packet
// thread.
func (w *Writer) currentFile(threadIdx int, now time.Time) *File {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, ok := w.files[threadIdx]
	if !ok {
		f = newFile(w.cfg, w.cfg.Node, threadIdx, now, w.linkType, w.snapLen)
		w.files[threadIdx] = f
	}
	return f
}

// WritePacket appends one packet to its packet thread's active file,
// rolling to a new file first if the current one has crossed a size or
// age threshold. Returns the packed writer-file-position to stamp onto
// the packet.
func (w *Writer) WritePacket(threadIdx int, p *packetpool.Packet, now time.Time) (int64, error) {
	f := w.currentFile(threadIdx, now)
	if f.ShouldRoll(now) {
		if err := w.rollLocked(threadIdx, f); err != nil && !w.ignoreErrors {
			return 0, err
		}
		f = w.currentFile(threadIdx, now)
	}

	pos := f.AppendPacket(p)
	w.enqueueReadyParts(f, false)
	return pos, nil
}

// enqueueReadyParts pops any minPartSize-or-larger chunks out of f's
// pending buffer and hands them to the upload worker pool. final also
// drains a sub-threshold remainder, used when closing a file.
func (w *Writer) enqueueReadyParts(f *File, final bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for f.pending.Len() >= minPartSize || (final && f.pending.Len() > 0) {
		n := f.pending.Len()
		if !final && n > minPartSize {
			n = minPartSize
		}
		chunk := make([]byte, n)
		copy(chunk, f.pending.Bytes()[:n])
		f.pending.Next(n)

		f.partNumber++
		partNumber := f.partNumber

		atomic.AddInt32(&w.queued, 1)
		w.jobs <- uploadJob{file: f, data: chunk, partNumber: partNumber}

		if !final {
			break
		}
	}
}

// rollLocked finalizes f's compression stream, flushes its remaining
// data into the upload pipeline, replaces it with a fresh File for
// threadIdx, and issues its completion request once every part has been
// queued (not necessarily acknowledged; Quiesce waits for that).
func (w *Writer) rollLocked(threadIdx int, f *File) error {
	if err := f.codec.Flush(); err != nil {
		return errors.Wrapf(err, "writer: flush failed rolling %s", f.key)
	}
	w.enqueueReadyParts(f, true)

	w.mu.Lock()
	w.files[threadIdx] = nil
	delete(w.files, threadIdx)
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.awaitAndComplete(f)
	}()
	return nil
}

// awaitAndComplete polls until every part queued for f has been settled
// (acked or failed — not just acked, or a failed part would mean
// len(parts) never reaches partNumber and this would spin forever,
// leaking the goroutine and hanging Quiesce's wg.Wait), then issues the
// completion POST listing parts in ascending part-number order (parts
// are appended in ack order, which need not match assignment order since
// multiple workers upload a file's parts concurrently).
func (w *Writer) awaitAndComplete(f *File) {
	for {
		w.mu.Lock()
		done := f.settled >= f.partNumber
		w.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	w.mu.Lock()
	uploadID := f.uploadID
	failed := f.failed
	parts := append([]Part(nil), f.parts...)
	w.mu.Unlock()

	if uploadID == "" || failed {
		return
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	if err := w.uploader.Complete(context.Background(), f.key, uploadID, parts); err != nil {
		printer.Errorf("writer: complete failed for %s: %v\n", f.key, err)
	}
}

// QueueLength returns the sum of in-flight HTTP requests plus queued part
// buffers (§4.G "Back-pressure"); a nonzero value means the writer is not
// ready for the process to exit.
func (w *Writer) QueueLength() int {
	return int(atomic.LoadInt32(&w.inFlight) + atomic.LoadInt32(&w.queued))
}

// Quiesce rolls every packet thread's open file, waits for all uploads
// (including the workers they depend on) to finish, and stops the worker
// pool. Called once by the main loop after every packet thread has
// flushed its sessions (§4.H quit sequence).
func (w *Writer) Quiesce(ctx context.Context) {
	w.mu.Lock()
	files := make([]struct {
		idx int
		f   *File
	}, 0, len(w.files))
	for idx, f := range w.files {
		files = append(files, struct {
			idx int
			f   *File
		}{idx, f})
	}
	w.mu.Unlock()

	for _, entry := range files {
		_ = w.rollLocked(entry.idx, entry.f)
	}

	for w.QueueLength() > 0 {
		select {
		case <-ctx.Done():
			printer.Warningf("writer: quiesce timed out with queue_length=%d\n", w.QueueLength())
			return
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	close(w.jobs)
	w.wg.Wait()
}