// Command slinfo is a minimal SeedLink INFO client: it dials a server,
// optionally negotiates SLPROTO, issues one INFO command, and prints the
// decoded response. It exists to smoke-test a running seedlinkd without a
// full SeedLink client.
package main

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"flag"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/seedlink4go/seedlink4/internal/pki"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:18000", "server address, host:port")
	level := flag.String("level", "ID", "INFO level: ID, FORMATS, CAPABILITIES, STATIONS, STREAMS, CONNECTIONS")
	pattern := flag.String("pattern", "", "optional station pattern argument")
	v4 := flag.Bool("v4", false, "negotiate SLPROTO 4.0 (extended/JSON) instead of v3 (legacy/XML)")
	caCert := flag.String("cacert", "", "verify the server certificate against this CA (enables TLS)")
	timeout := flag.Duration("timeout", 5*time.Second, "read timeout for the INFO response")
	flag.Parse()

	conn, err := dial(*addr, *caCert)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	if *v4 {
		if err := sendLine(conn, "SLPROTO 4.0"); err != nil {
			fail(err)
		}
		if _, err := readLine(r); err != nil {
			fail(err)
		}
	}

	cmd := "INFO " + strings.ToUpper(*level)
	if *pattern != "" {
		cmd += " " + *pattern
	}
	if err := sendLine(conn, cmd); err != nil {
		fail(err)
	}

	conn.SetReadDeadline(time.Now().Add(*timeout))
	var doc []byte
	if *v4 {
		doc, err = readJSONInfo(r)
	} else {
		doc, err = readXMLInfo(r)
	}
	if err != nil {
		fail(err)
	}
	fmt.Println(string(doc))
}

func dial(addr, caCert string) (net.Conn, error) {
	if caCert == "" {
		return net.DialTimeout("tcp", addr, 5*time.Second)
	}
	tlsCfg, err := pki.NewClientTLSConfig(caCert, "", "")
	if err != nil {
		return nil, err
	}
	return tls.Dial("tcp", addr, tlsCfg)
}

func sendLine(conn net.Conn, line string) error {
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// readJSONInfo reads the 16-byte "SEJ"+code+length+padding header followed
// by the JSON document, per §6's v4 INFO framing.
func readJSONInfo(r *bufio.Reader) ([]byte, error) {
	header := make([]byte, 16)
	if _, err := readFull(r, header); err != nil {
		return nil, err
	}
	if string(header[0:3]) != "SEJ" {
		return nil, fmt.Errorf("unexpected INFO header %q", header[0:3])
	}
	length := binary.LittleEndian.Uint32(header[4:8])
	doc := make([]byte, length)
	if _, err := readFull(r, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// readXMLInfo reads a sequence of "SLINFO *"/"SLINFO  "-framed 512-byte
// payload chunks and concatenates the XML text they carry, per §6's v3
// INFO framing.
func readXMLInfo(r *bufio.Reader) ([]byte, error) {
	var out bytes.Buffer
	for {
		header := make([]byte, 8)
		if _, err := readFull(r, header); err != nil {
			return nil, err
		}
		payload := make([]byte, 512)
		if _, err := readFull(r, payload); err != nil {
			return nil, err
		}
		// The channel field (offset 15:18) carries the "INF"/"ERR" marker
		// rather than XML text; blank it before appending.
		clean := append([]byte(nil), payload...)
		copy(clean[15:18], "   ")
		out.Write(bytes.TrimRight(clean, "\x00"))

		last := string(header) == "SLINFO  "
		if last {
			break
		}
	}
	return out.Bytes(), nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "slinfo: %v\n", err)
	os.Exit(1)
}
