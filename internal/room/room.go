package room

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Room はLiveKitのルーム情報。
// RoomServiceのレスポンスはcamelCaseとsnake_caseのどちらのキーでも受け付け、
// int64の値がJSON文字列で届く場合も数値として扱う。
type Room struct {
	Sid             string
	Name            string
	EmptyTimeout    int64
	MaxParticipants int64
	CreationTime    int64
	NumParticipants int64
	// Metadata はルーム作成時に設定したJSON文字列。
	Metadata string
}

// MetadataMap はメタデータをパースして返す。
func (r Room) MetadataMap() map[string]any {
	return DecodeMetadata(r.Metadata)
}

// UnmarshalJSON はRoomService形式のJSONをデコードする。
func (r *Room) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("ルーム情報のデコードに失敗: %w", err)
	}

	var err error
	if r.Sid, err = stringField(raw, "sid"); err != nil {
		return err
	}
	if r.Name, err = stringField(raw, "name"); err != nil {
		return err
	}
	if r.Metadata, err = stringField(raw, "metadata"); err != nil {
		return err
	}
	if r.EmptyTimeout, err = intField(raw, "emptyTimeout", "empty_timeout"); err != nil {
		return err
	}
	if r.MaxParticipants, err = intField(raw, "maxParticipants", "max_participants"); err != nil {
		return err
	}
	if r.CreationTime, err = intField(raw, "creationTime", "creation_time"); err != nil {
		return err
	}
	if r.NumParticipants, err = intField(raw, "numParticipants", "num_participants"); err != nil {
		return err
	}
	return nil
}

// DecodeMetadata はルームのメタデータ文字列をパースする。
// JSONオブジェクトでない場合は空のマップを返し、失敗しない。
func DecodeMetadata(s string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	m, err := ParseMetadata([]byte(s))
	if err != nil {
		return map[string]any{}
	}
	return m
}

// ParseMetadata はJSONオブジェクトをメタデータとしてパースする。
// 数値はjson.Numberのまま保持するため、2^53を超える整数も桁が変わらない。
func ParseMetadata(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("メタデータのデコードに失敗: %w", err)
	}
	if m == nil {
		return nil, errors.New("メタデータがJSONオブジェクトではありません")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("メタデータの後ろに余分なデータがあります")
	}
	return m, nil
}

func lookup(raw map[string]json.RawMessage, keys ...string) (json.RawMessage, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func stringField(raw map[string]json.RawMessage, keys ...string) (string, error) {
	v, ok := lookup(raw, keys...)
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("%sのデコードに失敗: %w", keys[0], err)
	}
	return s, nil
}

func intField(raw map[string]json.RawMessage, keys ...string) (int64, error) {
	v, ok := lookup(raw, keys...)
	if !ok {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	// protojsonはint64を文字列で出力する
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, fmt.Errorf("%sのデコードに失敗: %w", keys[0], err)
	}
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%sのデコードに失敗: %w", keys[0], err)
	}
	return n, nil
}
