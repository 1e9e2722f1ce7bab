package cli

import (
	"bufio"
	"io"
	"os"

	"golang.org/x/term"
)

// LineReader 逐行读取用户输入，输入结束时返回 io.EOF。
type LineReader interface {
	ReadLine() (string, error)
	// Output 返回与读取端配套的输出，终端模式下负责换行转换。
	Output() io.Writer
	Close() error
}

// NewLineReader 在 in 为终端时启用行编辑与历史记录，否则按普通文本逐行读取。
func NewLineReader(in io.Reader, out io.Writer, prompt string) (LineReader, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return nil, err
		}
		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{f, out}, prompt)
		return &terminalReader{term: t, fd: int(f.Fd()), state: state}, nil
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	return &scannerReader{scanner: scanner, out: out, prompt: prompt}, nil
}

type terminalReader struct {
	term  *term.Terminal
	fd    int
	state *term.State
}

func (r *terminalReader) ReadLine() (string, error) {
	return r.term.ReadLine()
}

func (r *terminalReader) Output() io.Writer {
	return r.term
}

func (r *terminalReader) Close() error {
	return term.Restore(r.fd, r.state)
}

type scannerReader struct {
	scanner *bufio.Scanner
	out     io.Writer
	prompt  string
}

func (r *scannerReader) ReadLine() (string, error) {
	if r.prompt != "" {
		_, _ = io.WriteString(r.out, r.prompt)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scannerReader) Output() io.Writer {
	return r.out
}

func (r *scannerReader) Close() error {
	return nil
}
