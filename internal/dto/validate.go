package dto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ErrMalformedPayload 表示负载不是预期形状。
var ErrMalformedPayload = errors.New("malformed payload")

// Decode 在读取任何字段之前对不可信的负载做运行时形状校验。
func Decode(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || trimmed[0] != '{' {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(trimmed, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return Validate(dst)
}

// Validate 按 struct tag 校验，失败时包装 ErrMalformedPayload。
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
