package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// requestHeaderSize is the fixed wire size of a RequestHeader:
// 1 (type) + 4 (client id) + 1 (flags) + 4 (path len) + 4 (buf len).
const requestHeaderSize = 1 + 4 + 1 + 4 + 4

// replyHeaderSize is the fixed wire size of a ReplyHeader:
// 1 (status) + 1 (errcode) + 4 (n_buffers) + 4 (paths_total_len).
const replyHeaderSize = 1 + 1 + 4 + 4

var nativeEndian = binary.NativeEndian

// ReadExact reads exactly len(buf) bytes from r, the Go analogue of the
// excluded read_exact helper.
func ReadExact(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// WriteExact writes buf in full, the Go analogue of the excluded
// write_exact helper.
func WriteExact(w io.Writer, buf []byte) error {
	_, err := w.Write(buf)
	return err
}

// DecodeRequestHeader reads one fixed-size request header from r.
func DecodeRequestHeader(r io.Reader) (*RequestHeader, error) {
	var raw [requestHeaderSize]byte
	if err := ReadExact(r, raw[:]); err != nil {
		return nil, err
	}
	return &RequestHeader{
		Type:     Op(raw[0]),
		ClientID: nativeEndian.Uint32(raw[1:5]),
		Flags:    Flags(raw[5]),
		PathLen:  nativeEndian.Uint32(raw[6:10]),
		BufLen:   nativeEndian.Uint32(raw[10:14]),
	}, nil
}

// EncodeRequestHeader serialises a request header for tests/clients.
func EncodeRequestHeader(h *RequestHeader) []byte {
	var raw [requestHeaderSize]byte
	raw[0] = byte(h.Type)
	nativeEndian.PutUint32(raw[1:5], h.ClientID)
	raw[5] = byte(h.Flags)
	nativeEndian.PutUint32(raw[6:10], h.PathLen)
	nativeEndian.PutUint32(raw[10:14], h.BufLen)
	return raw[:]
}

// DecodeReplyHeader reads one fixed-size reply header from r.
func DecodeReplyHeader(r io.Reader) (*ReplyHeader, error) {
	var raw [replyHeaderSize]byte
	if err := ReadExact(r, raw[:]); err != nil {
		return nil, err
	}
	return &ReplyHeader{
		Status:        Status(raw[0]),
		ErrCode:       ErrCode(raw[1]),
		NBuffers:      nativeEndian.Uint32(raw[2:6]),
		PathsTotalLen: nativeEndian.Uint32(raw[6:10]),
	}, nil
}

// EncodeReplyHeader serialises a reply header.
func EncodeReplyHeader(h *ReplyHeader) []byte {
	var raw [replyHeaderSize]byte
	raw[0] = byte(h.Status)
	raw[1] = byte(h.ErrCode)
	nativeEndian.PutUint32(raw[2:6], h.NBuffers)
	nativeEndian.PutUint32(raw[6:10], h.PathsTotalLen)
	return raw[:]
}

// WriteOK writes a success reply with no follow-on files.
func WriteOK(w io.Writer) error {
	return WriteExact(w, EncodeReplyHeader(&ReplyHeader{Status: StatusOK}))
}

// WriteOKWithPayload writes a success reply carrying a single read payload
// (n_buffers == 1, paths_total_len doubling as the payload length per §4.5).
func WriteOKWithPayload(w io.Writer, payload []byte) error {
	hdr := &ReplyHeader{Status: StatusOK, NBuffers: 1, PathsTotalLen: uint32(len(payload))}
	if err := WriteExact(w, EncodeReplyHeader(hdr)); err != nil {
		return err
	}
	return WriteExact(w, payload)
}

// FileBlock is one evicted or read-N file in a multi-file reply.
type FileBlock struct {
	Path    string
	Payload []byte
}

// WriteMultiReply writes header, then n_buffers file sizes as fixed-width
// integers, then the newline-separated path list, then the concatenated
// payloads in path-list order.
func WriteMultiReply(w io.Writer, blocks []FileBlock) error {
	var pathList bytes.Buffer
	for _, b := range blocks {
		pathList.WriteString(b.Path)
		pathList.WriteByte('\n')
	}

	hdr := &ReplyHeader{
		Status:        StatusOK,
		NBuffers:      uint32(len(blocks)),
		PathsTotalLen: uint32(pathList.Len()),
	}
	if err := WriteExact(w, EncodeReplyHeader(hdr)); err != nil {
		return err
	}

	sizes := make([]byte, 4*len(blocks))
	for i, b := range blocks {
		nativeEndian.PutUint32(sizes[i*4:i*4+4], uint32(len(b.Payload)))
	}
	if err := WriteExact(w, sizes); err != nil {
		return err
	}
	if err := WriteExact(w, pathList.Bytes()); err != nil {
		return err
	}
	for _, b := range blocks {
		if err := WriteExact(w, b.Payload); err != nil {
			return err
		}
	}
	return nil
}

// ReadMultiReply parses the layout written by WriteMultiReply, given an
// already-decoded header. Used by tests and any future client.
func ReadMultiReply(r io.Reader, hdr *ReplyHeader) ([]FileBlock, error) {
	if hdr.NBuffers == 0 {
		return nil, nil
	}
	sizes := make([]byte, 4*hdr.NBuffers)
	if err := ReadExact(r, sizes); err != nil {
		return nil, err
	}
	pathsRaw := make([]byte, hdr.PathsTotalLen)
	if err := ReadExact(r, pathsRaw); err != nil {
		return nil, err
	}
	paths := splitPaths(pathsRaw)
	if len(paths) != int(hdr.NBuffers) {
		return nil, fmt.Errorf("protocol: expected %d paths, got %d", hdr.NBuffers, len(paths))
	}

	blocks := make([]FileBlock, hdr.NBuffers)
	for i := range blocks {
		size := nativeEndian.Uint32(sizes[i*4 : i*4+4])
		payload := make([]byte, size)
		if err := ReadExact(r, payload); err != nil {
			return nil, err
		}
		blocks[i] = FileBlock{Path: paths[i], Payload: payload}
	}
	return blocks, nil
}

func splitPaths(raw []byte) []string {
	var out []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			out = append(out, string(raw[start:i]))
			start = i + 1
		}
	}
	return out
}

// EncodeCount serialises n as the READ_N request payload: a single
// native-endian uint32.
func EncodeCount(n uint32) []byte {
	buf := make([]byte, 4)
	nativeEndian.PutUint32(buf, n)
	return buf
}

// DecodeCount parses the READ_N request payload written by EncodeCount.
func DecodeCount(buf []byte) uint32 {
	return nativeEndian.Uint32(buf)
}

// WriteFail writes a failure reply carrying the given error tag.
func WriteFail(w io.Writer, code ErrCode) error {
	return WriteExact(w, EncodeReplyHeader(&ReplyHeader{Status: StatusFail, ErrCode: code}))
}
