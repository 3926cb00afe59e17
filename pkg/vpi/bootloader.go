// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Bootloader handshake words
var (
	bootloaderRequest = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	bootloaderACK     = []byte{0xAA, 0xBB}
	bootloaderNACK    = []byte{0xDE, 0xAD}
)

// MaxImageSize is the largest image whose block count fits the request
const MaxImageSize = 0xFF * BlockSize

// ImageCRC pads the image to whole blocks with 0xFF and returns the CRC-8
// of the padded image and its block count
func ImageCRC(image []byte) (crc byte, blocks int) {
	blocks = (len(image) + BlockSize - 1) / BlockSize
	crc = CRC8(crcInitial, image)
	for i := len(image); i < blocks*BlockSize; i++ {
		crc = CRC8Update(crc, 0xFF)
	}
	return crc, blocks
}

// Uploader flashes firmware through the board's bootloader. The board must
// be reset into the bootloader first; Upload does that through the reset
// pin when one is set.
type Uploader struct {
	Conn   Conn
	Reset  ResetPin
	Logger *slog.Logger

	// Progress is called after each block with the number sent so far
	Progress func(sent, total int)

	sleep func(time.Duration)
}

// Upload sends image to the bootloader and waits for its final
// acknowledgement
func (u *Uploader) Upload(image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: empty firmware image", ErrInvalidArgument)
	}
	if len(image) > MaxImageSize {
		return fmt.Errorf("%w: firmware image is %d bytes, limit %d", ErrInvalidArgument, len(image), MaxImageSize)
	}
	sleep := u.sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := u.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	crc, blocks := ImageCRC(image)
	logger.Info("firmware loaded", "bytes", len(image), "blocks", blocks, "crc", fmt.Sprintf("0x%02X", crc))

	if u.Reset != nil {
		if err := PulseReset(u.Reset, sleep); err != nil {
			return err
		}
	}

	req := append(append([]byte{}, bootloaderRequest...), byte(blocks), crc, crc)
	sleep(bootloaderPause)
	if err := u.Conn.Write(req); err != nil {
		return fmt.Errorf("failed to send upload request: %w", err)
	}
	sleep(bootloaderPause)
	if err := u.expectACK("activation"); err != nil {
		return err
	}

	for i := 0; i < blocks; i++ {
		block := bytes.Repeat([]byte{0xFF}, BlockSize)
		copy(block, image[i*BlockSize:min((i+1)*BlockSize, len(image))])
		if err := u.Conn.Write(block); err != nil {
			return fmt.Errorf("failed to send block %d/%d: %w", i+1, blocks, err)
		}
		if u.Progress != nil {
			u.Progress(i+1, blocks)
		}
		sleep(bootloaderPause)
	}

	return u.expectACK("confirmation")
}

func (u *Uploader) expectACK(stage string) error {
	resp := append([]byte{}, bootloaderNACK...)
	if err := u.Conn.Read(resp); err != nil {
		return fmt.Errorf("failed to read %s response: %w", stage, err)
	}
	if !bytes.Equal(resp, bootloaderACK) {
		return fmt.Errorf("%w: %s response % X", ErrBootloaderNACK, stage, resp)
	}
	return nil
}

// IsNACK reports whether err is a bootloader rejection
func IsNACK(err error) bool {
	return errors.Is(err, ErrBootloaderNACK)
}
