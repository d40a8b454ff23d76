package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/de1gate/cli/reader"
	"github.com/pithecene-io/de1gate/cli/render"
	"github.com/pithecene-io/de1gate/types"
)

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return clientCommand(types.MethodGet, "Read a resource from a running gateway")
}

// PatchCommand returns the patch command.
func PatchCommand() *cli.Command {
	return clientCommand(types.MethodPatch, "Update fields of a resource")
}

// PutCommand returns the put command.
func PutCommand() *cli.Command {
	return clientCommand(types.MethodPut, "Replace a resource (de1/profile)")
}

func clientCommand(method types.Method, usage string) *cli.Command {
	flags := ClientFlags()
	if method.HasBody() {
		flags = append(flags, &cli.StringFlag{
			Name:     "data",
			Aliases:  []string{"d"},
			Usage:    "Request body: inline JSON, @file, or @- for stdin",
			Required: true,
		})
	}
	return &cli.Command{
		Name:      strings.ToLower(string(method)),
		Usage:     usage,
		ArgsUsage: "<resource>",
		Flags:     flags,
		Action:    clientAction(method),
	}
}

func clientAction(method types.Method) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return cli.Exit("resource required", exitConfigError)
		}
		if c.Bool("tui") {
			return cli.Exit(fmt.Sprintf("--tui is not supported for %s; use inspect", strings.ToLower(string(method))), exitConfigError)
		}

		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}

		var body []byte
		if method.HasBody() {
			body, err = readData(c.String("data"), os.Stdin)
			if err != nil {
				return cli.Exit(err.Error(), exitConfigError)
			}
		}

		client := reader.NewClient(c.String("server"), 0)
		reply, err := client.Do(c.Context, method, c.Args().First(), body)
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		if !reply.OK() {
			return cli.Exit((&reader.StatusError{Status: reply.Status, Detail: strings.TrimSpace(string(reply.Body))}).Error(), exitConfigError)
		}

		v, err := reply.Decode()
		if err != nil {
			return err
		}
		return r.Render(v)
	}
}

// readData resolves a --data value: "@-" reads stdin, "@path" reads a
// file, anything else is the body itself.
func readData(data string, stdin io.Reader) ([]byte, error) {
	if data == "" {
		return nil, errors.New("--data is empty")
	}
	if !strings.HasPrefix(data, "@") {
		return []byte(data), nil
	}
	path := data[1:]
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return b, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return b, nil
}
