package control

import (
	"fmt"
	"reflect"

	"github.com/hashicorp/go-msgpack/codec"
)

// Tag 控制命令类型，开放枚举：未知值可以解码，由调用方决定如何处理
type Tag uint8

const (
	TagStartDataEngine Tag = 1
	TagStopDataEngine  Tag = 2
	TagStatus          Tag = 3
	TagAssignment      Tag = 4
)

func (t Tag) String() string {
	switch t {
	case TagStartDataEngine:
		return "start_data_engine"
	case TagStopDataEngine:
		return "stop_data_engine"
	case TagStatus:
		return "status"
	case TagAssignment:
		return "assignment"
	}
	return fmt.Sprintf("tag_%d", uint8(t))
}

// Match Status/Assignment 的作用范围
type Match uint8

const (
	MatchAll      Match = 0
	MatchSpecific Match = 1
)

// Command 发往引擎的一条控制命令
// 线上格式为 msgpack 数组：[tag, payload...]
//   - StartDataEngine/StopDataEngine: [tag, node_id]
//   - Status/Assignment:              [tag, match] 或 [tag, match, node_id]
type Command struct {
	Tag    Tag
	NodeID string
	Match  Match
}

func StartDataEngine(nodeID string) Command {
	return Command{Tag: TagStartDataEngine, NodeID: nodeID}
}

func StopDataEngine(nodeID string) Command {
	return Command{Tag: TagStopDataEngine, NodeID: nodeID}
}

// Status 查询状态；nodeID 为空时匹配全部
func Status(nodeID string) Command {
	return Command{Tag: TagStatus, Match: matchFor(nodeID), NodeID: nodeID}
}

// Assignment 查询分配；nodeID 为空时匹配全部
func Assignment(nodeID string) Command {
	return Command{Tag: TagAssignment, Match: matchFor(nodeID), NodeID: nodeID}
}

func matchFor(nodeID string) Match {
	if nodeID == "" {
		return MatchAll
	}
	return MatchSpecific
}

func newHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

var mh = newHandle()

func (c Command) payload() []interface{} {
	switch c.Tag {
	case TagStartDataEngine, TagStopDataEngine:
		return []interface{}{uint8(c.Tag), c.NodeID}
	case TagStatus, TagAssignment:
		if c.Match == MatchSpecific {
			return []interface{}{uint8(c.Tag), uint8(c.Match), c.NodeID}
		}
		return []interface{}{uint8(c.Tag), uint8(c.Match)}
	}
	return []interface{}{uint8(c.Tag)}
}

// Encode 编码为 msgpack
func (c Command) Encode() ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, mh).Encode(c.payload()); err != nil {
		return nil, fmt.Errorf("encode %s: %w", c.Tag, err)
	}
	return out, nil
}

// DecodeCommand 解码命令；未知 tag 不报错，只保留 tag
func DecodeCommand(b []byte) (Command, error) {
	var fields []interface{}
	if err := codec.NewDecoderBytes(b, mh).Decode(&fields); err != nil {
		return Command{}, fmt.Errorf("decode command: %w", err)
	}
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("decode command: empty array")
	}
	tag, ok := toUint(fields[0])
	if !ok {
		return Command{}, fmt.Errorf("decode command: tag %v is not an integer", fields[0])
	}
	c := Command{Tag: Tag(tag)}
	switch c.Tag {
	case TagStartDataEngine, TagStopDataEngine:
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("decode %s: missing node id", c.Tag)
		}
		c.NodeID, _ = fields[1].(string)
	case TagStatus, TagAssignment:
		if len(fields) < 2 {
			return Command{}, fmt.Errorf("decode %s: missing match", c.Tag)
		}
		m, _ := toUint(fields[1])
		c.Match = Match(m)
		if c.Match == MatchSpecific && len(fields) > 2 {
			c.NodeID, _ = fields[2].(string)
		}
	}
	return c, nil
}

func toUint(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case int8:
		return uint64(n), n >= 0
	}
	return 0, false
}

// Reply 引擎应答，按需解码
type Reply struct {
	Raw []byte
}

// Decode 把 msgpack 应答解码到 v
func (r Reply) Decode(v interface{}) error {
	if err := codec.NewDecoderBytes(r.Raw, mh).Decode(v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// EncodeReply 编码应答（测试和模拟引擎使用）
func EncodeReply(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, mh).Encode(v); err != nil {
		return nil, fmt.Errorf("encode reply: %w", err)
	}
	return out, nil
}
