package redis

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"

	"arenad/events"
)

var (
	ErrPointerType  = errors.New("pointer type is not allowed")
	ErrMissingField = errors.New("data field not found or invalid type")
)

// EncodeMessage 以msgpack將資料序列化成stream訊息欄位
func EncodeMessage[T any](data T) (map[string]any, error) {
	if reflect.TypeOf(data).Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}
	bytes, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{"data": bytes}, nil
}

// DecodeMessage 將stream訊息欄位還原成資料
func DecodeMessage[T any](message map[string]any) (T, error) {
	var result T
	if reflect.TypeOf(result).Kind() == reflect.Ptr {
		return result, ErrPointerType
	}

	var raw []byte
	switch v := message["data"].(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return result, ErrMissingField
	}
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}

// EncodeEvent 事件的stream訊息，額外帶上類型與事件id方便以redis-cli檢視
func EncodeEvent(event events.Event) (map[string]any, error) {
	message, err := EncodeMessage(event)
	if err != nil {
		return nil, err
	}
	message["type"] = event.Type
	message["aggregateId"] = event.AggregateID
	return message, nil
}

func DecodeEvent(message map[string]any) (events.Event, error) {
	return DecodeMessage[events.Event](message)
}
