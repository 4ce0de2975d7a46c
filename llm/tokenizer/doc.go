// Package tokenizer 估算回合最终文本的 Token 数，写入回合指标报告。
// 指定模型时使用 tiktoken 编码，否则退回 CJK 感知的字符估算器。
package tokenizer
