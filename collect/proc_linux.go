//go:build linux

package collect

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// collectProcesses writes one line per running process: pid and command name
// from /proc/<pid>/comm.
func collectProcesses(ctx context.Context, outputPath string) error {
	pids, err := listPids()
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-8s %s\n", "PID", "NAME")
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return err
		}
		comm, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
		if err != nil {
			// Process exited between listing and read.
			continue
		}
		fmt.Fprintf(&sb, "%-8d %s\n", pid, strings.TrimSpace(string(comm)))
	}

	return writeReport(outputPath, sb.String())
}

// collectProcessDetails writes an extended record per process: parent pid,
// uid, thread count, resident memory, and full command line.
func collectProcessDetails(ctx context.Context, outputPath string) error {
	pids, err := listPids()
	if err != nil {
		return err
	}

	var sb strings.Builder
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return err
		}
		dir := filepath.Join("/proc", strconv.Itoa(pid))

		status, err := parseStatus(filepath.Join(dir, "status"))
		if err != nil {
			continue
		}

		cmdline := ""
		if raw, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
			cmdline = strings.TrimRight(strings.ReplaceAll(string(raw), "\x00", " "), " ")
		}

		fmt.Fprintf(&sb, "pid=%d name=%s ppid=%s uid=%s threads=%s vmrss=%s cmdline=%q\n",
			pid,
			status["Name"],
			status["PPid"],
			firstField(status["Uid"]),
			status["Threads"],
			status["VmRSS"],
			cmdline,
		)
	}

	return writeReport(outputPath, sb.String())
}

// collectPorts writes open TCP/UDP endpoints from /proc/net, one line per
// socket: protocol, local address, remote address, state.
func collectPorts(ctx context.Context, outputPath string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%-6s %-40s %-40s %s\n", "PROTO", "LOCAL", "REMOTE", "STATE")

	tables := []struct {
		proto string
		path  string
		ipv6  bool
	}{
		{"tcp", "/proc/net/tcp", false},
		{"tcp6", "/proc/net/tcp6", true},
		{"udp", "/proc/net/udp", false},
		{"udp6", "/proc/net/udp6", true},
	}

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendSocketTable(&sb, table.proto, table.path, table.ipv6); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
	}

	return writeReport(outputPath, sb.String())
}

func listPids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("reading /proc: %w", err)
	}
	var pids []int
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func parseStatus(path string) (map[string]string, error) {
	f, err := os.Open(path) // #nosec G304 -- /proc path built from a numeric pid
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields, scanner.Err()
}

func firstField(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return s[:i]
	}
	return s
}

// tcpStates maps /proc/net/tcp state codes to names.
var tcpStates = map[int64]string{
	1:  "ESTABLISHED",
	2:  "SYN_SENT",
	3:  "SYN_RECV",
	4:  "FIN_WAIT1",
	5:  "FIN_WAIT2",
	6:  "TIME_WAIT",
	7:  "CLOSE",
	8:  "CLOSE_WAIT",
	9:  "LAST_ACK",
	10: "LISTEN",
	11: "CLOSING",
}

func appendSocketTable(sb *strings.Builder, proto, path string, ipv6 bool) error {
	f, err := os.Open(path) // #nosec G304 -- fixed /proc/net path
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Scan() // header line
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}

		local, err := decodeSocketAddr(fields[1], ipv6)
		if err != nil {
			continue
		}
		remote, err := decodeSocketAddr(fields[2], ipv6)
		if err != nil {
			continue
		}

		state := "-"
		if strings.HasPrefix(proto, "tcp") {
			if code, err := strconv.ParseInt(fields[3], 16, 32); err == nil {
				if name, ok := tcpStates[code]; ok {
					state = name
				}
			}
		}

		fmt.Fprintf(sb, "%-6s %-40s %-40s %s\n", proto, local, remote, state)
	}
	return scanner.Err()
}

// decodeSocketAddr converts the kernel's hex "ADDR:PORT" socket notation to
// a printable address.
func decodeSocketAddr(field string, ipv6 bool) (string, error) {
	addrHex, portHex, ok := strings.Cut(field, ":")
	if !ok {
		return "", fmt.Errorf("malformed socket address %q", field)
	}

	port, err := strconv.ParseUint(portHex, 16, 16)
	if err != nil {
		return "", err
	}

	raw, err := hex.DecodeString(addrHex)
	if err != nil {
		return "", err
	}

	var ip net.IP
	if ipv6 {
		if len(raw) != 16 {
			return "", fmt.Errorf("bad ipv6 address length %d", len(raw))
		}
		// The kernel stores IPv6 addresses as four little-endian 32-bit words.
		ip = make(net.IP, 16)
		for i := 0; i < 4; i++ {
			binary.BigEndian.PutUint32(ip[i*4:], binary.LittleEndian.Uint32(raw[i*4:]))
		}
	} else {
		if len(raw) != 4 {
			return "", fmt.Errorf("bad ipv4 address length %d", len(raw))
		}
		ip = net.IPv4(raw[3], raw[2], raw[1], raw[0])
	}

	return net.JoinHostPort(ip.String(), strconv.FormatUint(port, 10)), nil
}

func writeReport(outputPath, content string) error {
	f, err := os.Create(outputPath) // #nosec G304 -- output path from the manifest
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("writing %s: %w", outputPath, err)
	}
	return f.Close()
}
