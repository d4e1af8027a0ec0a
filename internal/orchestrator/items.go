package orchestrator

import (
	"context"
	"os"
	"path/filepath"

	"github.com/Taichi-iskw/transcript-index/internal/errors"
	"github.com/Taichi-iskw/transcript-index/internal/logger"
	"github.com/Taichi-iskw/transcript-index/internal/model"
	"github.com/Taichi-iskw/transcript-index/internal/repository/transcript"
)

// recordingJob transcribes one cloud recording
func (o *Orchestrator) recordingJob(rec model.Recording, room string) itemJob {
	key := rec.Key()
	return itemJob{
		key: key,
		run: func(ctx context.Context, w *writer, log *logger.Logger) model.ItemOutcome {
			return o.processRecording(ctx, rec, key, room, w, log)
		},
	}
}

func (o *Orchestrator) processRecording(ctx context.Context, rec model.Recording, key, room string, w *writer, log *logger.Logger) model.ItemOutcome {
	// the API already filters by room; this guards against a broader listing
	if room != "" && rec.RoomName != room {
		log.WithField("room", rec.RoomName).Debug("recording is from another room; skipping")
		return skipped(key)
	}

	if outcome, done := o.checkCache(key, log); done {
		return outcome
	}

	link, err := o.deps.Daily.GetAccessLink(ctx, rec.ID)
	if err != nil {
		return failed(key, err, log, "failed to get access link")
	}

	audioPath := ""
	if o.deps.Transcriber.RequiresLocalAudio() {
		stem := filepath.Join(o.opts.ScratchDir, transcript.SanitizeKey(key))
		audioPath = stem + ".wav"
		defer removeScratch(audioPath, log)

		if !fileExists(audioPath) {
			videoPath := stem + ".mp4"
			defer removeScratch(videoPath, log)

			if _, err := o.deps.Extractor.Download(ctx, link, videoPath); err != nil {
				return failed(key, err, log, "failed to download recording")
			}
			if audioPath, err = o.deps.Extractor.ExtractAudio(ctx, videoPath); err != nil {
				return failed(key, err, log, "failed to extract audio")
			}
			removeScratch(videoPath, log)
		}
	}

	text, err := o.deps.Transcriber.Transcribe(ctx, link, audioPath)
	if err != nil {
		return transcriptionFailed(key, err, log)
	}

	outcome, _ := o.persist(ctx, key, text, model.SourceDaily, w, log)
	return outcome
}

// uploadJob transcribes one uploaded video and deletes it once its transcript exists
func (o *Orchestrator) uploadJob(up model.Upload) itemJob {
	key := up.Key()
	return itemJob{
		key: key,
		run: func(ctx context.Context, w *writer, log *logger.Logger) model.ItemOutcome {
			return o.processUpload(ctx, up, key, w, log)
		},
	}
}

func (o *Orchestrator) processUpload(ctx context.Context, up model.Upload, key string, w *writer, log *logger.Logger) model.ItemOutcome {
	if outcome, done := o.checkCache(key, log); done {
		if outcome.Kind == model.OutcomeSkipped {
			// already transcribed, the video only takes up space
			removeScratch(up.Path, log)
		}
		return outcome
	}

	audioPath, err := o.deps.Extractor.ExtractAudio(ctx, up.Path)
	if audioPath != "" {
		defer removeScratch(audioPath, log)
	}
	if err != nil {
		return failed(key, err, log, "failed to extract audio")
	}

	text, err := o.deps.Transcriber.Transcribe(ctx, "", audioPath)
	if err != nil {
		// keep the video so a later run reconsiders it
		return transcriptionFailed(key, err, log)
	}

	outcome, saved := o.persist(ctx, key, text, model.SourceUploads, w, log)
	if saved {
		removeScratch(up.Path, log)
	}
	return outcome
}

// checkCache reports done when the item needs no work (or the check itself failed)
func (o *Orchestrator) checkCache(key string, log *logger.Logger) (model.ItemOutcome, bool) {
	exists, err := o.deps.Store.Exists(key)
	if err != nil {
		return failed(key, err, log, "failed to check transcript cache"), true
	}
	if exists {
		log.Debug("transcript exists; skipping")
		return skipped(key), true
	}
	return model.ItemOutcome{}, false
}

// persist saves the transcript, then inserts it when the batch has a writer.
// saved is true whenever a transcript for key is on disk afterwards.
func (o *Orchestrator) persist(ctx context.Context, key, text string, source model.Source, w *writer, log *logger.Logger) (model.ItemOutcome, bool) {
	if err := o.deps.Store.Save(key, text); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			log.Debug("transcript written concurrently; skipping")
			return skipped(key), true
		}
		return failed(key, err, log, "failed to save transcript"), false
	}

	outcome := model.ItemOutcome{Key: key, Kind: model.OutcomeProcessed}
	if w != nil {
		// same id the bulk build derives from the transcript file name
		doc := model.Document{
			ID:   transcript.SanitizeKey(key),
			Text: text,
			Metadata: map[string]string{
				"source":    string(source),
				"file_name": transcript.SanitizeKey(key) + ".txt",
			},
		}
		if err := w.insert(ctx, doc); err != nil {
			// the transcript stays on disk and is picked up by the next bulk build
			return failed(key, err, log, "failed to insert transcript into index"), true
		}
		outcome.Indexed = true
	}
	log.WithField("indexed", outcome.Indexed).Info("item processed")
	return outcome, true
}

func skipped(key string) model.ItemOutcome {
	return model.ItemOutcome{Key: key, Kind: model.OutcomeSkipped}
}

func failed(key string, err error, log *logger.Logger, msg string) model.ItemOutcome {
	log.WithError(err).Error(msg)
	return model.ItemOutcome{Key: key, Kind: model.OutcomeFailed, Err: err}
}

// transcriptionFailed separates oversized media, which needs a person to split it, from other failures
func transcriptionFailed(key string, err error, log *logger.Logger) model.ItemOutcome {
	if errors.Is(err, errors.CodePayloadTooLarge) {
		log.WithError(err).WithField("reason", "payload_too_large").
			Warn("recording too large to transcribe; split or compress it and re-upload manually")
		return model.ItemOutcome{Key: key, Kind: model.OutcomeTooLarge, Err: err}
	}
	return failed(key, err, log, "transcription failed; skipping item")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func removeScratch(path string, log *logger.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", path).Warn("failed to remove file")
	}
}
