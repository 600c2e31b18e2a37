package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	pref "github.com/goliatone/go-preference"
	"github.com/goliatone/go-preference/pkg/state"
)

const (
	typeRaw    = "raw"
	typeString = "string"
	typeInt    = "int"
	typeFloat  = "float"
	typeBool   = "bool"
	typeDate   = "date"
	typeURL    = "url"
	typeYAML   = "yaml"
)

func newGetCommand(a *app) *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the effective value of a preference",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVarP(&typ, "type", "t", typeRaw, "decode as raw, string, int, float, bool, date or url")
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		value, ok, err := a.lookup(args[0], typ)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", args[0], ErrNotSet)
		}
		fmt.Fprintln(cmd.OutOrStdout(), format(value))
		return nil
	})
	return cmd
}

func newSetCommand(a *app) *cobra.Command {
	var (
		typ     string
		require string
	)
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a preference to the application domain",
		Args:  cobra.ExactArgs(2),
	}
	cmd.Flags().StringVarP(&typ, "type", "t", typeString, "parse as string, int, float, bool, date, url or yaml")
	cmd.Flags().StringVar(&require, "require", "", "expr constraint the value must satisfy, e.g. 'between(value, 8, 72)'")
	cmd.RunE = a.runE(func(cmd *cobra.Command, args []string) error {
		var constraint pref.Constraint
		if require != "" {
			c, err := pref.NewExprConstraint(require, pref.ConstraintWithFunctionRegistry(pref.StandardFunctions()))
			if err != nil {
				return err
			}
			constraint = c
		}
		return a.write(cmd, args[0], typ, args[1], constraint)
	})
	return cmd
}

func newRemoveCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <key>...",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove preferences from the application domain",
		Args:    cobra.MinimumNArgs(1),
	}
	cmd.RunE = a.runE(func(_ *cobra.Command, args []string) error {
		for _, key := range args {
			if err := pref.ValidateKey(key); err != nil {
				return err
			}
			a.store.Remove(key)
		}
		return nil
	})
	return cmd
}

func newListCommand(a *app) *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List preferences with the domain that supplies each value",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringVar(&domain, "domain", "", fmt.Sprintf("list a single domain: %s, %s or %s",
		state.DomainArgument, state.DomainApplication, state.DomainRegistration))
	cmd.RunE = a.runE(func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		if domain != "" {
			d, err := a.store.Domain(domain)
			if err != nil {
				return err
			}
			lister, ok := d.Store.(pref.Lister)
			if !ok {
				return fmt.Errorf("domain %s cannot list its keys", domain)
			}
			for _, key := range lister.Keys() {
				value, _ := d.Store.Get(key)
				fmt.Fprintf(out, "%s\t%s\n", key, format(value))
			}
			return nil
		}
		for _, key := range a.store.Keys() {
			effective, ok := a.store.Trace(key).Effective()
			if !ok {
				continue
			}
			fmt.Fprintf(out, "%s\t%s\t%s\n", key, format(effective.Value), effective.Domain)
		}
		return nil
	})
	return cmd
}

// lookup reads key through a binding of the requested type.
func (a *app) lookup(key, typ string) (any, bool, error) {
	if err := pref.ValidateKey(key); err != nil {
		return nil, false, err
	}
	switch typ {
	case typeRaw, "":
		value, ok := a.store.Get(key)
		return value, ok, nil
	case typeString:
		value, ok := optional(a, key, pref.String())
		return value, ok, nil
	case typeInt:
		value, ok := optional(a, key, pref.Int64())
		return value, ok, nil
	case typeFloat:
		value, ok := optional(a, key, pref.Float64())
		return value, ok, nil
	case typeBool:
		value, ok := optional(a, key, pref.Bool())
		return value, ok, nil
	case typeDate:
		value, ok := optional(a, key, pref.Date())
		return value, ok, nil
	case typeURL:
		value, ok := optional(a, key, pref.URL())
		return value, ok, nil
	}
	return nil, false, fmt.Errorf("unknown type %q", typ)
}

func optional[T any](a *app, key string, codec pref.Codec[T]) (any, bool) {
	b := pref.NewOptional(key, codec, a.store, pref.WithLogger(a.bindingLogger()))
	defer b.Close()
	value := b.Get()
	if value == nil {
		return nil, false
	}
	return *value, true
}

// write parses text as typ and stores it through a binding, reporting a
// constraint rejection as an error.
func (a *app) write(cmd *cobra.Command, key, typ, text string, constraint pref.Constraint) error {
	if err := pref.ValidateKey(key); err != nil {
		return err
	}
	switch typ {
	case typeString, "":
		return assign(a, key, pref.String(), text, constraint)
	case typeInt:
		n, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return assign(a, key, pref.Int64(), n, constraint)
	case typeFloat:
		f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return assign(a, key, pref.Float64(), f, constraint)
	case typeBool:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return assign(a, key, pref.Bool(), b, constraint)
	case typeDate:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return assign(a, key, pref.Date(), t, constraint)
	case typeURL:
		u, ok := pref.URL().Decode(text)
		if !ok {
			return fmt.Errorf("%s: invalid path %q", key, text)
		}
		return assign(a, key, pref.URL(), u, constraint)
	case typeYAML:
		var value any
		if err := yaml.Unmarshal([]byte(text), &value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if constraint != nil {
			if err := constraint.Check(cmd.Context(), key, value); err != nil {
				return err
			}
		}
		a.store.Set(key, value)
		return nil
	}
	return fmt.Errorf("unknown type %q", typ)
}

func assign[T any](a *app, key string, codec pref.Codec[T], value T, constraint pref.Constraint) error {
	var (
		armed    bool
		rejected error
	)
	logger := pref.MultiLogger(a.bindingLogger(), pref.LoggerFunc(func(event pref.LogEvent) {
		if armed && event.Op == pref.OpReject {
			rejected = event.Err
		}
	}))
	opts := []pref.Option{pref.WithLogger(logger)}
	if constraint != nil {
		opts = append(opts, pref.WithConstraint(constraint))
	}

	var zero T
	b := pref.New(key, zero, codec, a.store, opts...)
	defer b.Close()
	armed = true
	b.Set(value)
	return rejected
}

// format renders a raw or decoded value on one line.
func format(value any) string {
	switch v := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return v
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case *url.URL:
		return v.String()
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	case map[string]any, []any:
		out, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(out)
	}
	return fmt.Sprint(value)
}
