// Command client sends a single command frame to a server and prints the
// reply, for manual testing of the wire protocol.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/epokhe/keyserv/internal/wire"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  client <addr> <command> [args...]\n")
	fmt.Fprintf(os.Stderr, "  client localhost:1234 GET foo\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	addr := os.Args[1]
	args := os.Args[2:]

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to dial %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	if _, err := conn.Write(wire.EncodeRequest(args)); err != nil {
		fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
		os.Exit(1)
	}

	reply, err := readReply(conn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
		os.Exit(1)
	}

	printReply(reply)
}

func readReply(conn net.Conn) (wire.Reply, error) {
	hdr := make([]byte, 4)
	if err := readFull(conn, hdr); err != nil {
		return wire.Reply{}, err
	}
	bodyLen := int(hdr[0]) | int(hdr[1])<<8 | int(hdr[2])<<16 | int(hdr[3])<<24

	body := make([]byte, bodyLen)
	if err := readFull(conn, body); err != nil {
		return wire.Reply{}, err
	}

	reply, _, err := wire.ParseReplyFrame(append(hdr, body...))
	return reply, err
}

func readFull(conn net.Conn, buf []byte) error {
	for total := 0; total < len(buf); {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func printReply(r wire.Reply) {
	switch r.Tag {
	case wire.TagNil:
		fmt.Println("(nil)")
	case wire.TagError:
		fmt.Printf("(error %d) %s\n", r.ErrCode, r.Str)
	case wire.TagString:
		fmt.Println(r.Str)
	case wire.TagInteger:
		fmt.Println(r.Int)
	case wire.TagDouble:
		fmt.Println(r.Double)
	}
}
