package blobstore

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec turns original bytes into their archived representation and back.
// A non-nil dict is the original content of the chain base; codecs that
// cannot use it ignore it on both sides.
type Codec interface {
	Name() string
	Ext() string
	Encode(src, dict []byte) ([]byte, error)
	Decode(src, dict []byte) ([]byte, error)
}

// ParseCodec returns the codec registered under name.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "zstd", "":
		return ZstdCodec{}, nil
	case "lz4":
		return LZ4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q: %w", name, common.ErrInvalidInput)
	}
}

// ZstdCodec compresses with zstd. With a dict the base content is used as a
// raw dictionary, which makes chained entries behave like binary deltas.
type ZstdCodec struct{}

var (
	zstdEncoder     *zstd.Encoder
	zstdDecoder     *zstd.Decoder
	zstdEncoderOnce sync.Once
	zstdDecoderOnce sync.Once
)

func plainZstdEncoder() *zstd.Encoder {
	zstdEncoderOnce.Do(func() {
		var err error
		zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			panic(fmt.Sprintf("zstd encoder init: %v", err))
		}
	})
	return zstdEncoder
}

func plainZstdDecoder() *zstd.Decoder {
	zstdDecoderOnce.Do(func() {
		var err error
		zstdDecoder, err = zstd.NewReader(nil)
		if err != nil {
			panic(fmt.Sprintf("zstd decoder init: %v", err))
		}
	})
	return zstdDecoder
}

func (ZstdCodec) Name() string { return "zstd" }
func (ZstdCodec) Ext() string  { return "zst" }

func (ZstdCodec) Encode(src, dict []byte) ([]byte, error) {
	if len(dict) == 0 {
		return plainZstdEncoder().EncodeAll(src, nil), nil
	}
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderDictRaw(0, dict))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}

func (ZstdCodec) Decode(src, dict []byte) ([]byte, error) {
	if len(dict) == 0 {
		out, err := plainZstdDecoder().DecodeAll(src, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderDictRaw(0, dict))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// LZ4Codec trades ratio for speed and ignores chain bases.
type LZ4Codec struct{}

func (LZ4Codec) Name() string { return "lz4" }
func (LZ4Codec) Ext() string  { return "lz4" }

func (LZ4Codec) Encode(src, _ []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	return buf.Bytes(), nil
}

func (LZ4Codec) Decode(src, _ []byte) ([]byte, error) {
	out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	return out, nil
}
