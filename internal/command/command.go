// Package command implements the command dispatcher: it maps a parsed
// argument vector to a handler, validates arity and argument types, and
// serializes a reply body via the wire package. The body returned by
// Dispatch is unwrapped — internal/conn prefixes it with its 4-byte
// length before writing it to the socket.
package command

import (
	"math"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/epokhe/keyserv/internal/store"
	"github.com/epokhe/keyserv/internal/wire"
	"github.com/epokhe/keyserv/internal/zset"
)

// Error codes carried in an Error reply.
const (
	ErrArgument       int32 = -1
	ErrUnknownCommand int32 = -2
	ErrWrongType      int32 = -3
)

type handlerFunc func(d *Dispatcher, args []string, buf []byte) []byte

type entry struct {
	minArity int // including the command name itself
	maxArity int // -1 means unbounded
	arityMsg string
	handler  handlerFunc
}

var table = map[string]entry{
	"GET":      {2, 2, "GET requires one key", handleGet},
	"SET":      {3, 3, "SET requires a key and a value", handleSet},
	"DEL":      {2, 2, "DEL requires one key", handleDel},
	"EXISTS":   {2, 2, "EXISTS requires one key", handleExists},
	"FLUSHALL": {1, 1, "FLUSHALL takes no arguments", handleFlushAll},
	"ZADD":     {4, 4, "ZADD requires key, score, and member", handleZAdd},
	"ZREM":     {3, 3, "ZREM requires a key and a member", handleZRem},
	"PEXPIRE":  {3, 3, "PEXPIRE requires a key and a ttl in milliseconds", handlePExpire},
	"PTTL":     {2, 2, "PTTL requires one key", handlePTTL},
	"PING":     {1, 2, "PING takes at most one argument", handlePing},
	"TYPE":     {2, 2, "TYPE requires one key", handleType},
	"ZSCORE":   {3, 3, "ZSCORE requires a key and a member", handleZScore},
	"ZCARD":    {2, 2, "ZCARD requires one key", handleZCard},
	"KEYS":     {1, 1, "KEYS takes no arguments", handleKeys},
	"TTL":      {2, 2, "TTL requires one key", handleTTL},
}

// names is the registered-command-name set, built once at package init and
// used for the O(1) unknown-command check ahead of the arity/handler
// lookup above.
var names = func() mapset.Set[string] {
	s := mapset.NewThreadUnsafeSet[string]()
	for name := range table {
		s.Add(name)
	}
	return s
}()

// Dispatcher runs command handlers against a single Keyspace. It is not
// safe for concurrent use; all keyspace mutations must happen on one
// goroutine.
type Dispatcher struct {
	ks *store.Keyspace
}

// New returns a Dispatcher bound to ks.
func New(ks *store.Keyspace) *Dispatcher {
	return &Dispatcher{ks: ks}
}

// Dispatch validates and runs one command, appending its reply body to buf
// and returning the extended slice. args[0] is the command name, matched
// case-insensitively.
func (d *Dispatcher) Dispatch(args []string, buf []byte) []byte {
	if len(args) == 0 {
		return wire.AppendError(buf, ErrArgument, "empty command")
	}

	name := strings.ToUpper(args[0])
	if !names.Contains(name) {
		return wire.AppendError(buf, ErrUnknownCommand, "unknown command")
	}

	e := table[name]
	if len(args) < e.minArity || (e.maxArity >= 0 && len(args) > e.maxArity) {
		return wire.AppendError(buf, ErrArgument, e.arityMsg)
	}

	return e.handler(d, args, buf)
}

// parseScore parses a ZADD score: the full argument must be consumed and
// NaN is rejected.
func parseScore(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// parseTTLMillis parses a PEXPIRE argument: a base-10, non-negative
// integer, fully consumed. Anything else is an argument error.
func parseTTLMillis(s string) (int64, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func handleGet(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendNil(buf)
	}
	if e.Value.Tag != store.TagString {
		return wire.AppendError(buf, ErrWrongType, "Key holds wrong type")
	}
	return wire.AppendString(buf, e.Value.Str)
}

func handleSet(d *Dispatcher, args []string, buf []byte) []byte {
	d.ks.Create(args[1], store.Value{Tag: store.TagString, Str: args[2]})
	return wire.AppendString(buf, "OK")
}

func handleDel(d *Dispatcher, args []string, buf []byte) []byte {
	if d.ks.Delete(args[1]) {
		return wire.AppendInteger(buf, 1)
	}
	return wire.AppendInteger(buf, 0)
}

func handleExists(d *Dispatcher, args []string, buf []byte) []byte {
	if _, ok := d.ks.Find(args[1]); ok {
		return wire.AppendInteger(buf, 1)
	}
	return wire.AppendInteger(buf, 0)
}

func handleFlushAll(d *Dispatcher, args []string, buf []byte) []byte {
	d.ks.ClearAll()
	return wire.AppendInteger(buf, 1)
}

func handleZAdd(d *Dispatcher, args []string, buf []byte) []byte {
	score, ok := parseScore(args[2])
	if !ok {
		return wire.AppendError(buf, ErrArgument, "invalid score")
	}
	member := args[3]

	e, ok := d.ks.Find(args[1])
	if !ok {
		e = d.ks.Create(args[1], store.Value{Tag: store.TagZSet, ZSet: zset.New()})
	} else if e.Value.Tag != store.TagZSet {
		return wire.AppendError(buf, ErrWrongType, "Key holds wrong type")
	}

	if e.Value.ZSet.Add(member, score) == zset.Added {
		return wire.AppendInteger(buf, 1)
	}
	return wire.AppendInteger(buf, 0)
}

func handleZRem(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendInteger(buf, 0)
	}
	if e.Value.Tag != store.TagZSet {
		return wire.AppendError(buf, ErrWrongType, "Key holds wrong type")
	}
	if e.Value.ZSet.Remove(args[2]) {
		return wire.AppendInteger(buf, 1)
	}
	return wire.AppendInteger(buf, 0)
}

func handlePExpire(d *Dispatcher, args []string, buf []byte) []byte {
	ttl, ok := parseTTLMillis(args[2])
	if !ok {
		return wire.AppendError(buf, ErrArgument, "invalid ttl")
	}
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendInteger(buf, 0)
	}
	d.ks.SetTTL(e, ttl)
	return wire.AppendInteger(buf, 1)
}

func handlePTTL(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendInteger(buf, -2)
	}
	return wire.AppendInteger(buf, d.ks.GetTTL(e))
}

func handleTTL(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendInteger(buf, -2)
	}
	ms := d.ks.GetTTL(e)
	if ms < 0 {
		return wire.AppendInteger(buf, ms)
	}
	// round up to whole seconds
	return wire.AppendInteger(buf, (ms+999)/1000)
}

func handlePing(d *Dispatcher, args []string, buf []byte) []byte {
	if len(args) == 2 {
		return wire.AppendString(buf, args[1])
	}
	return wire.AppendString(buf, "PONG")
}

func handleType(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendString(buf, "none")
	}
	return wire.AppendString(buf, e.Value.Tag.String())
}

func handleZScore(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendNil(buf)
	}
	if e.Value.Tag != store.TagZSet {
		return wire.AppendError(buf, ErrWrongType, "Key holds wrong type")
	}
	n, ok := e.Value.ZSet.Lookup(args[2])
	if !ok {
		return wire.AppendNil(buf)
	}
	return wire.AppendDouble(buf, n.Score)
}

func handleZCard(d *Dispatcher, args []string, buf []byte) []byte {
	e, ok := d.ks.Find(args[1])
	if !ok {
		return wire.AppendInteger(buf, 0)
	}
	if e.Value.Tag != store.TagZSet {
		return wire.AppendError(buf, ErrWrongType, "Key holds wrong type")
	}
	return wire.AppendInteger(buf, int64(e.Value.ZSet.Len()))
}

func handleKeys(d *Dispatcher, args []string, buf []byte) []byte {
	keys := d.ks.Keys()
	return wire.AppendString(buf, strings.Join(keys, "\n"))
}
