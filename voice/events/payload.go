package events

// =============================================================================
// 📦 Payload 构造
// =============================================================================

// AudioMeta describes the encoding of an audio chunk. Zero values are omitted.
type AudioMeta struct {
	Format        string
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// AudioChunkPayload builds the AUDIO_CHUNK payload.
func AudioChunkPayload(audio []byte, segmentOrder, chunkIndex int, isLast, fromCache bool, meta AudioMeta) map[string]any {
	p := map[string]any{
		"audio":        audio,
		"segmentOrder": segmentOrder,
		"chunkIndex":   chunkIndex,
		"isLast":       isLast,
		"audioFormat":  meta.Format,
		"fromCache":    fromCache,
	}
	if meta.SampleRate > 0 {
		p["sampleRate"] = meta.SampleRate
	}
	if meta.Channels > 0 {
		p["channels"] = meta.Channels
	}
	if meta.BitsPerSample > 0 {
		p["bitsPerSample"] = meta.BitsPerSample
	}
	return p
}

// ErrorPayload builds the ERROR payload for a failed handler invocation.
func ErrorPayload(tagType, eventType, code, message string) map[string]any {
	p := map[string]any{
		"code":    code,
		"message": message,
	}
	if tagType != "" {
		p["tagType"] = tagType
	}
	if eventType != "" {
		p["eventType"] = eventType
	}
	return p
}

// RetryPayload builds RETRY_STARTED / RETRY_PROGRESS payloads.
func RetryPayload(attempt, maxRetries int, delayMs int64, reason string) map[string]any {
	return map[string]any{
		"attempt":    attempt,
		"maxRetries": maxRetries,
		"delayMs":    delayMs,
		"reason":     reason,
	}
}
