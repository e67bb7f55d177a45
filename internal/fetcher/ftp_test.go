package fetcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{
			name:     "default port",
			url:      "ftp://ftp2.census.gov/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip",
			wantHost: "ftp2.census.gov:21",
			wantPath: "/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip",
		},
		{
			name:     "explicit port",
			url:      "ftp://mirror.example.com:2121/geo/tiger/archive.zip",
			wantHost: "mirror.example.com:2121",
			wantPath: "/geo/tiger/archive.zip",
		},
		{
			name:    "http scheme rejected",
			url:     "http://example.com/archive.zip",
			wantErr: true,
		},
		{
			name:    "no path",
			url:     "ftp://ftp2.census.gov",
			wantErr: true,
		},
		{
			name:    "unparsable",
			url:     "://bad",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestNewFTPFetcherDefaultTimeout(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{})
	assert.Equal(t, DefaultFTPTimeout, f.opts.Timeout)
}

// ftpServer speaks just enough of the protocol to serve canned files to
// the jlaffaye client: anonymous login, passive mode and RETR.
type ftpServer struct {
	listener net.Listener
	files    map[string]string
	wg       sync.WaitGroup
}

func newFTPServer(t *testing.T, files map[string]string) *ftpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &ftpServer{listener: ln, files: files}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *ftpServer) addr() string {
	return s.listener.Addr().String()
}

func (s *ftpServer) close() {
	s.listener.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *ftpServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

func (s *ftpServer) handle(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck

	conn.SetDeadline(time.Now().Add(10 * time.Second)) //nolint:errcheck

	w := bufio.NewWriter(conn)
	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(w, format+"\r\n", args...) //nolint:errcheck
		w.Flush()                              //nolint:errcheck
	}

	reply("220 ready")

	var data net.Listener
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")

		switch strings.ToUpper(cmd) {
		case "USER", "PASS":
			reply("230 logged in")
		case "FEAT":
			reply("211-Features:")
			reply(" UTF8")
			reply("211 End")
		case "TYPE":
			reply("200 type set to %s", arg)
		case "OPTS":
			reply("200 ok")
		case "EPSV":
			var err error
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", data.Addr().(*net.TCPAddr).Port)
		case "PASV":
			var err error
			data, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			port := data.Addr().(*net.TCPAddr).Port
			reply("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
		case "RETR":
			if data == nil {
				reply("425 use PASV first")
				continue
			}
			content, ok := s.files[arg]
			if !ok {
				reply("550 file not found")
				data.Close() //nolint:errcheck
				data = nil
				continue
			}
			reply("150 opening data connection")
			dataConn, err := data.Accept()
			if err != nil {
				reply("425 cannot open data connection")
				continue
			}
			io.WriteString(dataConn, content) //nolint:errcheck
			dataConn.Close()                  //nolint:errcheck
			data.Close()                      //nolint:errcheck
			data = nil
			reply("226 transfer complete")
		case "QUIT":
			reply("221 goodbye")
			return
		default:
			reply("502 not implemented")
		}
	}
}

func TestDownload(t *testing.T) {
	srv := newFTPServer(t, map[string]string{
		"/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip": "boundary bytes",
	})

	f := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})
	url := fmt.Sprintf("ftp://%s/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip", srv.addr())

	body, err := f.Download(context.Background(), url)
	require.NoError(t, err)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "boundary bytes", string(data))
	require.NoError(t, body.Close())
}

func TestDownloadToFile(t *testing.T) {
	srv := newFTPServer(t, map[string]string{
		"/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip": "boundary bytes",
	})

	f := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})
	url := fmt.Sprintf("ftp://%s/geo/tiger/GENZ2021/shp/cb_2021_us_nation_5m.zip", srv.addr())
	dest := filepath.Join(t.TempDir(), "boundary.zip")

	n, err := f.DownloadToFile(context.Background(), url, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(len("boundary bytes")), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "boundary bytes", string(data))
}

func TestDownloadRejectsNonFTP(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})

	_, err := f.Download(context.Background(), "http://example.com/archive.zip")
	require.Error(t, err)
}

func TestDownloadDialFailure(t *testing.T) {
	f := NewFTPFetcher(FTPOptions{Timeout: 2 * time.Second})

	_, err := f.Download(context.Background(), "ftp://127.0.0.1:19999/archive.zip")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestDownloadMissingFile(t *testing.T) {
	srv := newFTPServer(t, map[string]string{"/present.zip": "x"})

	f := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})
	url := fmt.Sprintf("ftp://%s/absent.zip", srv.addr())

	_, err := f.Download(context.Background(), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieve")
}

func TestDownloadToFileBadDestination(t *testing.T) {
	srv := newFTPServer(t, map[string]string{"/archive.zip": "x"})

	f := NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second})
	url := fmt.Sprintf("ftp://%s/archive.zip", srv.addr())

	_, err := f.DownloadToFile(context.Background(), url, filepath.Join(t.TempDir(), "missing", "out.zip"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create")
}
