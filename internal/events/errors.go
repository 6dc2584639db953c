package events

import "errors"

var (
	// ErrQueueCorrupt: the queue file did not decode as a sequence of events.
	// Logged and counted, never returned from Enqueue.
	ErrQueueCorrupt = errors.New("queue file corrupt")

	// ErrRemoteUploadFailed: the remote store rejected or did not answer
	ErrRemoteUploadFailed = errors.New("remote upload failed")

	// ErrImageMissing: the image behind a reference cannot be read
	ErrImageMissing = errors.New("image missing")
)
