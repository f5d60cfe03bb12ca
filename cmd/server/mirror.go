package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"eventspread.ai/internal/persistence/r2s3"
)

type mirrorRuntime struct {
	enabled      bool
	rotateLayout string
	mirror       *r2s3.Mirror
}

func buildMirrorRuntime(ctx context.Context, dataDir string, logger *log.Logger) (*mirrorRuntime, error) {
	if !envBool("ES_S3_MIRROR", false) {
		return &mirrorRuntime{}, nil
	}

	cfg := r2s3.Config{
		Endpoint:        strings.TrimSpace(os.Getenv("ES_S3_ENDPOINT")),
		Region:          strings.TrimSpace(os.Getenv("ES_S3_REGION")),
		Bucket:          strings.TrimSpace(os.Getenv("ES_S3_BUCKET")),
		AccessKeyID:     strings.TrimSpace(os.Getenv("ES_S3_ACCESS_KEY_ID")),
		SecretAccessKey: strings.TrimSpace(os.Getenv("ES_S3_SECRET_ACCESS_KEY")),
		UsePathStyle:    envBool("ES_S3_PATH_STYLE", false),
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("ES_S3_MIRROR=true but ES_S3_ENDPOINT/ES_S3_BUCKET/ES_S3_ACCESS_KEY_ID/ES_S3_SECRET_ACCESS_KEY are not fully set")
	}
	client, err := r2s3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(client, dataDir, os.Getenv("ES_S3_PREFIX"), r2s3.MirrorOptions{
		Workers:       envInt("ES_S3_UPLOAD_WORKERS", 2),
		QueueCapacity: envInt("ES_S3_QUEUE_CAPACITY", 2048),
		EnqueueWait:   time.Duration(envInt("ES_S3_ENQUEUE_WAIT_MS", 25)) * time.Millisecond,
	}, logger)
	return &mirrorRuntime{
		enabled:      true,
		rotateLayout: "2006-01-02-15-04", // 1-minute tick log segments
		mirror:       mirror,
	}, nil
}

func (r *mirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *mirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *mirrorRuntime) EnqueueIfExists(localPath string) {
	if r == nil || !r.enabled {
		return
	}
	if _, err := os.Stat(localPath); err == nil {
		r.Enqueue(localPath)
	}
}

func (r *mirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
