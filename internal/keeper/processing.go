package keeper

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	kerrors "github.com/hughpyle/keep/internal/errors"
	"github.com/hughpyle/keep/internal/keepid"
	"github.com/hughpyle/keep/internal/pendingqueue"
	"github.com/hughpyle/keep/internal/processors"
	"github.com/hughpyle/keep/internal/remoteclient"
)

// delegatableTaskTypes are task types a configured remote TaskClient may
// perform instead of running locally (spec §4.9's dispatch table). A
// per-task `_local_only` metadata flag overrides delegation either way.
var delegatableTaskTypes = map[string]bool{
	"summarize": true,
	"ocr":       true,
}

// Analyzer decomposes content into parts for the "analyze" task type.
// Not provided by this package; injected by the caller (spec's part-
// decomposition subsystem is out of this package's scope).
type Analyzer interface {
	Analyze(ctx context.Context, collection, id, content string, metadata map[string]any) error
}

// SetSummarizer configures the provider used for "summarize"/"ocr"
// pending tasks. Nil (the default) falls back to truncation.
func (k *Keeper) SetSummarizer(s processors.Summarizer) { k.summarizer = s }

// SetExtractor configures the provider used to OCR "ocr" pending tasks.
func (k *Keeper) SetExtractor(e processors.Extractor) { k.extractor = e }

// SetRemoteClient configures the optional remote task service that
// delegatable pending tasks are submitted to, unless their metadata
// sets `_local_only`.
func (k *Keeper) SetRemoteClient(c *remoteclient.Client) { k.remote = c }

// SetAnalyzer configures the decomposer used for "analyze" pending
// tasks. Without one, analyze tasks are logged and dropped.
func (k *Keeper) SetAnalyzer(a Analyzer) { k.analyzer = a }

// ProcessResult tallies one ProcessPending batch, mirroring the
// reference implementation's process_pending return shape.
type ProcessResult struct {
	Processed int
	Failed    int
	Abandoned int
	Errors    []string
}

// ProcessPending drains up to limit items from the pending queue and
// dispatches each by task_type. Items that have already failed
// Daemon.MaxSummaryAttempts times are abandoned (dead letter) rather
// than retried again.
func (k *Keeper) ProcessPending(ctx context.Context, limit int) (ProcessResult, error) {
	if k.queue == nil {
		return ProcessResult{}, kerrors.Dependency("no pending queue configured")
	}
	items, err := k.queue.Dequeue(ctx, limit)
	if err != nil {
		return ProcessResult{}, err
	}

	maxAttempts := k.cfg.Daemon.MaxSummaryAttempts
	if maxAttempts <= 0 {
		maxAttempts = pendingqueue.MaxSummaryAttempts
	}

	var result ProcessResult
	for _, item := range items {
		if item.Attempts >= maxAttempts {
			_ = k.queue.Abandon(ctx, item.ID, item.Collection, item.TaskType, "max attempts exceeded")
			result.Abandoned++
			continue
		}

		done, err := k.dispatchPending(ctx, item)
		if err != nil {
			errMsg := err.Error()
			if ferr := k.queue.FailOrAbandon(ctx, item, maxAttempts, errMsg); ferr != nil {
				return result, ferr
			}
			result.Failed++
			result.Errors = append(result.Errors, item.ID+": "+errMsg)
			slog.Warn("pending task failed", "task_type", item.TaskType, "id", item.ID, "attempt", item.Attempts, "error", err)
			continue
		}
		if !done {
			// Delegated to the remote service and re-enqueued for
			// polling on a later call; neither complete nor failed.
			continue
		}

		if err := k.queue.Complete(ctx, item.ID, item.Collection, item.TaskType); err != nil {
			return result, err
		}
		result.Processed++
	}
	return result, nil
}

// dispatchPending routes one dequeued item to its handler. done is
// false only when the item was handed to the remote service and
// re-enqueued awaiting a poll; the caller must not complete it yet.
func (k *Keeper) dispatchPending(ctx context.Context, item pendingqueue.Item) (done bool, err error) {
	if k.remote != nil && delegatableTaskTypes[item.TaskType] && !localOnly(item.Metadata) {
		return k.dispatchRemote(ctx, item)
	}
	switch item.TaskType {
	case "summarize":
		return true, k.applySummarize(ctx, item)
	case "ocr":
		return true, k.applyOCR(ctx, item)
	case "embed":
		return true, k.applyEmbed(ctx, item)
	case "reindex":
		return true, k.applyReindex(ctx, item)
	case "analyze":
		return true, k.applyAnalyze(ctx, item)
	default:
		return true, kerrors.Invalid("unknown pending task_type: "+item.TaskType, nil)
	}
}

func localOnly(metadata map[string]any) bool {
	b, _ := metadata["_local_only"].(bool)
	return b
}

// dispatchRemote submits a delegatable task on first sight, or polls it
// if a prior call already submitted it (tracked via a `_remote_task_id`
// metadata field round-tripped through re-enqueue).
func (k *Keeper) dispatchRemote(ctx context.Context, item pendingqueue.Item) (bool, error) {
	taskID, _ := item.Metadata["_remote_task_id"].(string)
	if taskID == "" {
		id, err := k.remote.Submit(ctx, item.TaskType, item.Content, item.Metadata)
		if err != nil {
			return false, err
		}
		meta := cloneMetadata(item.Metadata)
		meta["_remote_task_id"] = id
		if err := k.queue.Enqueue(ctx, item.ID, item.Collection, item.Content, item.TaskType, meta); err != nil {
			return false, err
		}
		return false, nil
	}

	poll, err := k.remote.Poll(ctx, taskID)
	if err != nil {
		return false, err
	}
	switch poll.Status {
	case remoteclient.StatusCompleted:
		if err := k.applyRemoteResult(ctx, item, poll); err != nil {
			return false, err
		}
		_ = k.remote.Acknowledge(ctx, taskID)
		return true, nil
	case remoteclient.StatusFailed:
		_ = k.remote.Acknowledge(ctx, taskID)
		return false, kerrors.RemoteRejected("remote task failed: " + poll.Error)
	case remoteclient.StatusNotFound:
		return false, kerrors.ProviderTransient("remote task vanished, will resubmit", nil)
	default:
		if err := k.queue.Enqueue(ctx, item.ID, item.Collection, item.Content, item.TaskType, item.Metadata); err != nil {
			return false, err
		}
		return false, nil
	}
}

func (k *Keeper) applyRemoteResult(ctx context.Context, item pendingqueue.Item, poll remoteclient.PollResult) error {
	switch item.TaskType {
	case "summarize":
		summary, _ := poll.Result["summary"].(string)
		return k.updateSummary(ctx, item.ID, item.Collection, summary)
	case "ocr":
		summary, _ := poll.Result["summary"].(string)
		content, _ := poll.Result["content"].(string)
		hash, _ := poll.Result["content_hash"].(string)
		hashFull, _ := poll.Result["content_hash_full"].(string)
		return k.applyOCRResult(ctx, item.ID, item.Collection, processors.OCRResult{
			Summary: summary, Content: content, ContentHash: hash, ContentHashFull: hashFull,
		})
	default:
		return kerrors.Invalid("remote result for non-delegatable task_type: "+item.TaskType, nil)
	}
}

// applySummarize generates a real summary for a lazily-truncated item,
// using its non-system tags as contextual hints.
func (k *Keeper) applySummarize(ctx context.Context, item pendingqueue.Item) error {
	doc, err := k.docs.Get(ctx, item.Collection, item.ID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil // deleted since enqueue
	}
	var context string
	if userTags := keepid.FilterNonSystemTags(doc.Tags); len(userTags) > 0 {
		context = formatTagContext(userTags)
	}
	summary, err := processors.ProcessSummarize(ctx, item.Content, context, k.summarizer)
	if err != nil {
		return err
	}
	return k.updateSummary(ctx, item.ID, item.Collection, summary)
}

// updateSummary rewrites a head's summary in both stores without
// touching its content hash or archiving a version.
func (k *Keeper) updateSummary(ctx context.Context, id, collection, summary string) error {
	doc, err := k.docs.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if _, _, err := k.docs.Upsert(ctx, collection, id, summary, doc.Tags, doc.ContentHash, doc.ContentHashFull, doc.CreatedAt); err != nil {
		return err
	}
	if k.vectors != nil {
		if err := k.vectors.UpdateSummary(ctx, id, summary); err != nil {
			return err
		}
	}
	return nil
}

// applyOCR summarizes OCR'd full text (if over max length) and writes
// the resulting summary and content hashes.
func (k *Keeper) applyOCR(ctx context.Context, item pendingqueue.Item) error {
	result, err := processors.ProcessOCR(ctx, item.Content, k.cfg.Summary.MaxLength, "", k.summarizer)
	if err != nil {
		return err
	}
	return k.applyOCRResult(ctx, item.ID, item.Collection, result)
}

func (k *Keeper) applyOCRResult(ctx context.Context, id, collection string, result processors.OCRResult) error {
	doc, err := k.docs.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	if _, _, err := k.docs.Upsert(ctx, collection, id, result.Summary, doc.Tags, result.ContentHash, result.ContentHashFull, doc.CreatedAt); err != nil {
		return err
	}
	if k.vectors != nil {
		if err := k.vectors.UpdateSummary(ctx, id, result.Summary); err != nil {
			return err
		}
	}
	return nil
}

// applyEmbed computes (deduping where possible) the embedding for a
// deferred item, archiving the outgoing embedding as a version first if
// the item's content actually changed.
func (k *Keeper) applyEmbed(ctx context.Context, item pendingqueue.Item) error {
	if k.vectors == nil || k.embedder == nil {
		return kerrors.Dependency("no embedding provider configured")
	}
	doc, err := k.docs.Get(ctx, item.Collection, item.ID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	if contentChanged, _ := item.Metadata["content_changed"].(bool); contentChanged {
		if err := k.archiveOldEmbedding(ctx, item.Collection, item.ID); err != nil {
			return err
		}
	}

	embedding, err := k.embedOnce(ctx, item.Content)
	if err != nil {
		return err
	}
	return k.vectors.Upsert(ctx, item.ID, embedding, keepid.CasefoldTagsForIndex(doc.Tags), doc.Summary)
}

func (k *Keeper) archiveOldEmbedding(ctx context.Context, collection, id string) error {
	maxVer, err := k.docs.MaxVersion(ctx, collection, id)
	if err != nil || maxVer == 0 {
		return err
	}
	oldEntry, err := k.vectors.Get(ctx, id)
	if err != nil || oldEntry == nil {
		return err
	}
	archived, err := k.docs.GetVersion(ctx, collection, id, 1)
	if err != nil || archived == nil {
		return err
	}
	return k.vectors.UpsertVersion(ctx, id, maxVer, oldEntry.Vector, keepid.CasefoldTagsForIndex(archived.Tags), archived.Summary)
}

// applyReindex embeds item.Content (a summary) into VectorStore, either
// as a versioned entry (when metadata carries version/base_id) or as
// the main document head.
func (k *Keeper) applyReindex(ctx context.Context, item pendingqueue.Item) error {
	if k.vectors == nil || k.embedder == nil {
		return kerrors.Dependency("no embedding provider configured")
	}
	embedding, err := k.embedOnce(ctx, item.Content)
	if err != nil {
		return err
	}

	if rawVersion, hasVersion := item.Metadata["version"]; hasVersion {
		if baseID, ok := item.Metadata["base_id"].(string); ok && baseID != "" {
			verNum, _ := toInt(rawVersion)
			tags, _ := item.Metadata["tags"].(map[string]any)
			return k.vectors.UpsertVersion(ctx, baseID, verNum, embedding, keepid.CasefoldTagsForIndex(stringTags(tags)), item.Content)
		}
	}

	doc, err := k.docs.Get(ctx, item.Collection, item.ID)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	return k.vectors.Upsert(ctx, item.ID, embedding, keepid.CasefoldTagsForIndex(doc.Tags), item.Content)
}

// applyAnalyze calls the configured Analyzer, if any.
func (k *Keeper) applyAnalyze(ctx context.Context, item pendingqueue.Item) error {
	if k.analyzer == nil {
		slog.Warn("analyze task skipped: no analyzer configured", "id", item.ID)
		return nil
	}
	return k.analyzer.Analyze(ctx, item.Collection, item.ID, item.Content, item.Metadata)
}

func formatTagContext(tags map[string]string) string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(tags[k])
	}
	return b.String()
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func stringTags(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func cloneMetadata(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
