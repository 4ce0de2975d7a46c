/*
包 speech 提供语音合成 (TTS) 接入层，把一段文本变成有序的音频分块序列。

# 核心接口

  - TTSProvider：一次性 TTS 供应商（OpenAI、ElevenLabs、Mock），返回音频流。
  - Synthesizer：分块合成接口，Synthesize(ctx, text, voiceID) 返回 <-chan AudioChunk，
    分块 Index 从 0 开始连续递增，恰好最后一块 IsLast=true；中途失败以 Err 分块结束。

# 组合

  - ChunkedSynthesizer：把供应商的音频流按固定大小切块，预读一块以正确标记 IsLast。
  - CachedSynthesizer：以 (namespace, voice, sha256(text)) 为键把完整音频缓存到 redis，
    命中时以 FromCache=true 回放。
  - NewFromConfig：按 config.SpeechConfig 组装 供应商 → 分块 → 缓存。
*/
package speech
