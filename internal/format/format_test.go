package format

import (
	"encoding/binary"
	"math"
	"testing"
)

func buildMSEED2(t *testing.T, station, location, channel, network string, year, day uint16, hour, minute, second byte, numSamples uint16, rateFactor, rateMultiplier int16) []byte {
	t.Helper()
	buf := make([]byte, 48)
	copy(buf[0:6], "000001")
	buf[6] = 'D'
	copy(buf[8:13], padRight(station, 5))
	copy(buf[13:15], padRight(location, 2))
	copy(buf[15:18], padRight(channel, 3))
	copy(buf[18:20], padRight(network, 2))
	binary.BigEndian.PutUint16(buf[20:22], year)
	binary.BigEndian.PutUint16(buf[22:24], day)
	buf[24] = hour
	buf[25] = minute
	buf[26] = second
	binary.BigEndian.PutUint16(buf[28:30], 0)
	binary.BigEndian.PutUint16(buf[30:32], numSamples)
	binary.BigEndian.PutUint16(buf[32:34], uint16(rateFactor))
	binary.BigEndian.PutUint16(buf[34:36], uint16(rateMultiplier))
	buf[39] = 0 // no blockettes
	binary.BigEndian.PutUint16(buf[46:48], 0)
	return buf
}

func padRight(s string, n int) string {
	for len(s) < n {
		s += " "
	}
	return s[:n]
}

func TestDecodeMSEED2(t *testing.T) {
	buf := buildMSEED2(t, "STA01", "00", "BHZ", "XX", 2026, 1, 0, 0, 0, 100, 100, 1)
	r := NewDefaultRegistry()
	rec, consumed, err := r.Decode("2D", "", buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
	if rec.Station != "XX.STA01" {
		t.Errorf("Station = %q, want %q", rec.Station, "XX.STA01")
	}
	if rec.Location != "00" {
		t.Errorf("Location = %q, want %q", rec.Location, "00")
	}
	if rec.Channel != "BHZ" {
		t.Errorf("Channel = %q, want %q", rec.Channel, "BHZ")
	}
	if rec.Format != "2D" {
		t.Errorf("Format = %q, want %q", rec.Format, "2D")
	}
	if !rec.EndTime.After(rec.StartTime) {
		t.Errorf("expected EndTime after StartTime for a 100-sample 100Hz record")
	}
}

func TestDecodeMSEED2NeedsMore(t *testing.T) {
	r := NewDefaultRegistry()
	if _, _, err := r.Decode("2D", "", make([]byte, 10)); err != ErrNeedMore {
		t.Errorf("Decode with short buffer: err = %v, want ErrNeedMore", err)
	}
}

func TestDecodeMSEED2BlankLocation(t *testing.T) {
	buf := buildMSEED2(t, "STA01", "--", "BHZ", "XX", 2026, 1, 0, 0, 0, 0, 0, 0)
	r := NewDefaultRegistry()
	rec, _, err := r.Decode("2D", "", buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Location != "" {
		t.Errorf("Location = %q, want empty for '--' convention", rec.Location)
	}
}

func buildMSEED3(t *testing.T, sid string, year, day uint16, hour, minute, second byte, sampleRateHz float64, numSamples uint32, extra string) []byte {
	t.Helper()
	sidBytes := []byte(sid)
	extraBytes := []byte(extra)
	header := make([]byte, 40)
	copy(header[0:2], "MS")
	binary.LittleEndian.PutUint16(header[8:10], year)
	binary.LittleEndian.PutUint16(header[10:12], day)
	header[12] = hour
	header[13] = minute
	header[14] = second
	binary.LittleEndian.PutUint64(header[16:24], math.Float64bits(sampleRateHz))
	binary.LittleEndian.PutUint32(header[24:28], numSamples)
	header[33] = byte(len(sidBytes))
	binary.LittleEndian.PutUint16(header[34:36], uint16(len(extraBytes)))
	binary.LittleEndian.PutUint32(header[36:40], 0)

	buf := append(header, sidBytes...)
	buf = append(buf, extraBytes...)
	return buf
}

func TestDecodeMSEED3(t *testing.T) {
	buf := buildMSEED3(t, "FDSN:XX_STA01_00_B_H_Z", 2026, 1, 0, 0, 0, 20.0, 200, "{}")
	r := NewDefaultRegistry()
	rec, consumed, err := r.Decode("3D", "", buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
	if rec.Station != "XX.STA01" {
		t.Errorf("Station = %q, want %q", rec.Station, "XX.STA01")
	}
	if rec.Channel != "BHZ" {
		t.Errorf("Channel = %q, want %q", rec.Channel, "BHZ")
	}
	if rec.Format != "3D" {
		t.Errorf("Format = %q, want %q", rec.Format, "3D")
	}
}

func TestDecodeMSEED3NeedsMore(t *testing.T) {
	r := NewDefaultRegistry()
	if _, _, err := r.Decode("3D", "", make([]byte, 10)); err != ErrNeedMore {
		t.Errorf("Decode with short buffer: err = %v, want ErrNeedMore", err)
	}
}

func TestDecodeMSEED3EventSubtype(t *testing.T) {
	buf := buildMSEED3(t, "FDSN:XX_STA01_00_B_H_Z", 2026, 1, 0, 0, 0, 0, 0, `{"FDSN":{"Event":{}}}`)
	r := NewDefaultRegistry()
	rec, _, err := r.Decode("3D", "", buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Subtype() != 'E' {
		t.Errorf("Subtype() = %q, want 'E'", rec.Subtype())
	}
}

func TestRegistryUnknownCode(t *testing.T) {
	r := NewRegistry()
	if _, _, err := r.Decode("9D", "", make([]byte, 64)); err == nil {
		t.Error("expected error for unregistered format code")
	}
}
