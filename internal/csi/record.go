// SPDX-License-Identifier: MIT
package csi

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RecordMarker opens every text record.
const RecordMarker = "CSI_DATA"

// ErrMalformedRecord is wrapped by every ParseRecord failure.
var ErrMalformedRecord = errors.New("malformed CSI record")

/*
Text record layout (one line per frame):

	CSI_DATA,<rssi>,<len>,<b0>,<b1>,...,<b(len-1)>\n

Each b_i is the signed decimal value of one raw sample byte. There is no
trailing comma; a frame with no samples renders as CSI_DATA,<rssi>,0\n.
*/

// AppendRecord appends the text record of (rssi, samples) to dst.
func AppendRecord(dst []byte, rssi int, samples []int8) []byte {
	dst = append(dst, RecordMarker...)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(rssi), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(len(samples)), 10)
	for _, s := range samples {
		dst = append(dst, ',')
		dst = strconv.AppendInt(dst, int64(s), 10)
	}
	return append(dst, '\n')
}

// ParseRecord decodes one text record (with or without its line terminator)
// into dst, reusing its storage. It returns the RSSI and the decoded samples.
func ParseRecord(line string, dst []int8) (int, []int8, error) {
	line = strings.TrimRight(line, "\r\n")
	marker, rest, ok := strings.Cut(line, ",")
	if !ok || marker != RecordMarker {
		return 0, dst, fmt.Errorf("%w: missing %s marker", ErrMalformedRecord, RecordMarker)
	}

	rssiField, rest, ok := strings.Cut(rest, ",")
	if !ok {
		return 0, dst, fmt.Errorf("%w: missing length", ErrMalformedRecord)
	}
	rssi, err := strconv.Atoi(rssiField)
	if err != nil {
		return 0, dst, fmt.Errorf("%w: rssi: %v", ErrMalformedRecord, err)
	}

	lenField, rest, hasSamples := strings.Cut(rest, ",")
	n, err := strconv.Atoi(lenField)
	if err != nil || n < 0 {
		return 0, dst, fmt.Errorf("%w: length %q", ErrMalformedRecord, lenField)
	}

	dst = dst[:0]
	for hasSamples {
		var field string
		field, rest, hasSamples = strings.Cut(rest, ",")
		v, err := strconv.ParseInt(field, 10, 8)
		if err != nil {
			return 0, dst, fmt.Errorf("%w: sample %d: %v", ErrMalformedRecord, len(dst), err)
		}
		dst = append(dst, int8(v))
	}
	if len(dst) != n {
		return 0, dst, fmt.Errorf("%w: declared %d samples, found %d", ErrMalformedRecord, n, len(dst))
	}

	return rssi, dst, nil
}
