// Package frame 实现了多路复用协议的文本帧编解码
//
// 帧格式: "<type>,<name>,<payload...>"，payload 可以包含逗号。
package frame

import (
	"net/url"
	"strings"
)

// Type 定义了帧的类型标记
type Type string

const (
	Subscribe   Type = "sub" // 订阅频道
	Unsubscribe Type = "uns" // 取消订阅
	Message     Type = "msg" // 频道消息
)

const separator = ","

// TypeMap 将帧类型映射到其可读名称
var TypeMap = map[Type]string{
	Subscribe:   "SUBSCRIBE",
	Unsubscribe: "UNSUBSCRIBE",
	Message:     "MESSAGE",
}

func (t Type) String() string {
	if name, ok := TypeMap[t]; ok {
		return name
	}
	return "UNKNOWN(" + string(t) + ")"
}

// Known reports whether t is one of the protocol frame types.
func (t Type) Known() bool {
	_, ok := TypeMap[t]
	return ok
}

// Frame 一个完整的协议帧
type Frame struct {
	Type    Type
	Name    string
	Payload string
}

// Encode joins the three fields with commas. name must already be comma free,
// see EscapeName. A Subscribe or Unsubscribe frame with an empty payload is
// written without the trailing separator ("sub,chat").
func Encode(t Type, name string, payload string) string {
	if payload == "" && t != Message {
		return string(t) + separator + name
	}
	return string(t) + separator + name + separator + payload
}

// String returns the wire form of f.
func (f Frame) String() string {
	return Encode(f.Type, f.Name, f.Payload)
}

// Decode splits raw into type, name and payload. Everything after the second
// separator is the payload, commas included. ok is false when raw has fewer
// than two fields or an empty name; such frames cannot be routed.
// Unknown types decode fine and are left for the caller to ignore.
func Decode(raw string) (Frame, bool) {
	parts := strings.SplitN(raw, separator, 3)
	if len(parts) < 2 || parts[1] == "" {
		return Frame{}, false
	}
	f := Frame{
		Type: Type(parts[0]),
		Name: parts[1],
	}
	if len(parts) == 3 {
		f.Payload = parts[2]
	}
	return f, true
}

// EscapeName turns a topic into a channel name that never contains the
// separator. The mapping is reversible with UnescapeName.
func EscapeName(topic string) string {
	return url.QueryEscape(topic)
}

// UnescapeName reverses EscapeName. Names that are not valid escapes are
// returned unchanged.
func UnescapeName(name string) string {
	topic, err := url.QueryUnescape(name)
	if err != nil {
		return name
	}
	return topic
}
