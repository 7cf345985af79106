// Copyright 2024 The lightcore Authors
// This file is part of lightcore.
//
// lightcore is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lightcore-labs/lightcore/internal/chainhash"
	"github.com/lightcore-labs/lightcore/internal/lcerr"
)

const (
	commandSize = 12
	// MaxPayloadSize bounds a single frame's payload; exceeding it is a
	// connection-fatal OversizedPayload error (§4.4).
	MaxPayloadSize = 32 * 1024 * 1024
)

// Frame is a parsed message frame (§4.4): magic + command + length +
// checksum + payload.
type Frame struct {
	Magic    [4]byte
	Command  string
	Payload  []byte
	Checksum [4]byte
}

func commandBytes(command string) ([commandSize]byte, error) {
	var out [commandSize]byte
	if len(command) > commandSize {
		return out, fmt.Errorf("%w: command %q longer than %d bytes", lcerr.ErrUnknownCommand, command, commandSize)
	}
	copy(out[:], command)
	return out, nil
}

func commandString(b [commandSize]byte) string {
	n := 0
	for n < commandSize && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func checksum(payload []byte) [4]byte {
	h := chainhash.DoubleHashH(payload)
	var out [4]byte
	copy(out[:], h[:4])
	return out
}

// WriteFrame writes command and payload framed with magic (§4.4).
func WriteFrame(w io.Writer, magic [4]byte, command string, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return lcerr.ErrOversizedPayload
	}
	cmd, err := commandBytes(command)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, 4+commandSize+4+4+len(payload))
	buf = append(buf, magic[:]...)
	buf = append(buf, cmd[:]...)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	buf = append(buf, lenBuf[:]...)

	sum := checksum(payload)
	buf = append(buf, sum[:]...)
	buf = append(buf, payload...)

	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one frame, validating magic and checksum (§4.4). A
// mismatched magic or checksum is reported via the returned error; callers
// drop the frame and keep the connection open per §4.4's failure policy,
// except for OversizedPayload which is connection-fatal.
func ReadFrame(r io.Reader, wantMagic [4]byte) (*Frame, error) {
	var header [4 + commandSize + 4 + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("%w: header read: %v", lcerr.ErrIoError, err)
	}

	var f Frame
	copy(f.Magic[:], header[0:4])
	if f.Magic != wantMagic {
		return nil, lcerr.ErrBadMagic
	}

	var cmdBytes [commandSize]byte
	copy(cmdBytes[:], header[4:4+commandSize])
	f.Command = commandString(cmdBytes)

	length := binary.LittleEndian.Uint32(header[4+commandSize : 4+commandSize+4])
	copy(f.Checksum[:], header[4+commandSize+4:])

	if length > MaxPayloadSize {
		return nil, lcerr.ErrOversizedPayload
	}

	f.Payload = make([]byte, length)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload read: %v", lcerr.ErrIoError, err)
	}

	if checksum(f.Payload) != f.Checksum {
		return nil, lcerr.ErrBadChecksum
	}
	return &f, nil
}
