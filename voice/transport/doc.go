// Package transport carries a session's turns over a websocket connection.
//
// 客户端以 JSON 文本帧发送 turn / cancel 指令，服务端把回合的有序事件流
// 逐条写回（{type, sessionId, turnId, timestamp, payload}）。同一连接同时
// 只允许一个进行中的回合。
package transport
