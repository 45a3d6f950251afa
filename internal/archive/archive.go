// Package archive uploads evicted ring records to an S3-compatible bucket
// for cold storage. It is wired to Ring.SetEvictHook and must never block
// the ring's append path, so uploads happen on a background worker fed by
// a bounded channel — best-effort, the same asynchronous-by-design shape
// as the teacher's streamer/throttle pipeline, generalized from a
// synchronous backup stream to a fire-and-forget archival sink.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/seedlink4go/seedlink4/internal/ring"
)

// queueDepth bounds how many evicted records may be pending upload before
// Submit drops the incoming record (logging a warning) rather than blocking
// the caller (which, transitively, is Ring.Put holding its own lock).
const queueDepth = 1024

// uploadTimeout bounds a single PutObject call so a stalled archive
// destination cannot pile up goroutines behind the single worker loop.
const uploadTimeout = 30 * time.Second

// Config selects the destination bucket and, optionally, a non-AWS
// S3-compatible endpoint and static credentials.
type Config struct {
	Bucket          string
	Endpoint        string // empty selects the default AWS endpoint resolution
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Archiver uploads Evicted records to S3-compatible object storage,
// keyed "<station>/<sequence>.rec".
type Archiver struct {
	client *s3.Client
	bucket string
	logger *slog.Logger

	queue chan ring.Evicted
	wg    sync.WaitGroup
	done  chan struct{}
}

// New builds an Archiver from cfg. It loads the default AWS config chain
// and, when cfg.Endpoint is set, overrides the resolved endpoint for
// S3-compatible object stores (e.g. MinIO).
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Archiver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		optFns = append(optFns, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("archive: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	a := &Archiver{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With("component", "archive"),
		queue:  make(chan ring.Evicted, queueDepth),
		done:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a, nil
}

// Submit enqueues an evicted record for upload. It never blocks: if the
// queue is full, the record is dropped and logged, since archival is
// best-effort and must not create backpressure on Ring.Put.
func (a *Archiver) Submit(e ring.Evicted) {
	select {
	case a.queue <- e:
	default:
		a.logger.Warn("archive queue full, dropping evicted record", "station", e.Station, "sequence", e.Sequence)
	}
}

// Close stops accepting new uploads and waits for the queue to drain.
func (a *Archiver) Close() {
	close(a.done)
	a.wg.Wait()
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		select {
		case e := <-a.queue:
			a.upload(e)
		case <-a.done:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-a.queue:
					a.upload(e)
				default:
					return
				}
			}
		}
	}
}

func (a *Archiver) upload(e ring.Evicted) {
	key := fmt.Sprintf("%s/%d.rec", e.Station, e.Sequence)
	ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
	defer cancel()
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(e.Payload),
	})
	if err != nil {
		a.logger.Warn("archive upload failed", "key", key, "error", err)
		return
	}
	a.logger.Debug("archived evicted record", "key", key, "stream", e.StreamID)
}
