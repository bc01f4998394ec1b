// Package flag implements flag-related functionality.
package flag

import (
	"os"
	"reflect"
	"time"

	"github.com/spf13/cobra"
)

// Flag wraps the set of flags.
type Flag interface {
	addTo(*cobra.Command)
}

type Set []Flag

func (s Set) addTo(cmd *cobra.Command) {
	for _, flag := range s {
		flag.addTo(cmd)
	}
}

// Add adds flags to cmd.
func Add(cmd *cobra.Command, flags ...Flag) {
	for _, flag := range flags {
		flag.addTo(cmd)
	}
}

// Bool wraps the set of boolean flags.
type Bool struct {
	Name        string
	Shorthand   string
	Description string
	Default     bool
	Hidden      bool
	Aliases     []string
}

func (b Bool) addTo(cmd *cobra.Command) {
	flags := cmd.Flags()

	if b.Shorthand != "" {
		_ = flags.BoolP(b.Name, b.Shorthand, b.Default, b.Description)
	} else {
		_ = flags.Bool(b.Name, b.Default, b.Description)
	}

	f := flags.Lookup(b.Name)
	f.Hidden = b.Hidden

	// Aliases
	for _, name := range b.Aliases {
		makeAlias(b, name).addTo(cmd)
	}
	err := cmd.Flags().SetAnnotation(f.Name, "alias", b.Aliases)
	if err != nil {
		panic(err)
	}
}

// String wraps the set of string flags.
type String struct {
	Name              string
	Shorthand         string
	Description       string
	Default           string
	NoOptDefVal       string
	EnvName           string
	Hidden            bool
	Aliases           []string
	UseAliasShortHand bool
	CompletionFn      CompletionFunc
}

func (s String) addTo(cmd *cobra.Command) {
	flags := cmd.Flags()

	def := s.Default
	if v, ok := lookupEnv(s.EnvName); ok {
		def = v
	}

	if s.Shorthand != "" {
		_ = flags.StringP(s.Name, s.Shorthand, def, s.Description)
	} else {
		_ = flags.String(s.Name, def, s.Description)
	}

	f := flags.Lookup(s.Name)
	f.Hidden = s.Hidden
	if s.NoOptDefVal != "" {
		f.NoOptDefVal = s.NoOptDefVal
	}

	// Aliases
	for _, name := range s.Aliases {
		makeAlias(s, name).addTo(cmd)
	}
	err := cmd.Flags().SetAnnotation(f.Name, "alias", s.Aliases)
	if err != nil {
		panic(err)
	}

	// Completion
	if s.CompletionFn != nil {
		_ = cmd.RegisterFlagCompletionFunc(s.Name, Adapt(s.CompletionFn))
	}
}

// Int wraps the set of int flags.
type Int struct {
	Name        string
	Shorthand   string
	Description string
	Default     int
	Hidden      bool
	Aliases     []string
}

func (i Int) addTo(cmd *cobra.Command) {
	flags := cmd.Flags()

	if i.Shorthand != "" {
		_ = flags.IntP(i.Name, i.Shorthand, i.Default, i.Description)
	} else {
		_ = flags.Int(i.Name, i.Default, i.Description)
	}

	f := flags.Lookup(i.Name)
	f.Hidden = i.Hidden

	// Aliases
	for _, name := range i.Aliases {
		makeAlias(i, name).addTo(cmd)
	}
	err := cmd.Flags().SetAnnotation(f.Name, "alias", i.Aliases)
	if err != nil {
		panic(err)
	}
}

// Duration wraps the set of duration flags.
type Duration struct {
	Name        string
	Shorthand   string
	Description string
	Default     time.Duration
	EnvName     string
	Hidden      bool
	Aliases     []string
}

func (d Duration) addTo(cmd *cobra.Command) {
	flags := cmd.Flags()

	def := d.Default
	if v, ok := lookupEnv(d.EnvName); ok {
		if parsed, err := time.ParseDuration(v); err == nil {
			def = parsed
		}
	}

	if d.Shorthand != "" {
		_ = flags.DurationP(d.Name, d.Shorthand, def, d.Description)
	} else {
		_ = flags.Duration(d.Name, def, d.Description)
	}

	f := flags.Lookup(d.Name)
	f.Hidden = d.Hidden

	// Aliases
	for _, name := range d.Aliases {
		makeAlias(d, name).addTo(cmd)
	}
	err := cmd.Flags().SetAnnotation(f.Name, "alias", d.Aliases)
	if err != nil {
		panic(err)
	}
}

// Yes returns a yes bool flag.
func Yes() Bool {
	return Bool{
		Name:        "yes",
		Shorthand:   "y",
		Description: "Accept all confirmations",
		Aliases:     []string{"auto-confirm"},
	}
}

// Socket returns the flag selecting the relay address.
func Socket() String {
	return String{
		Name:        "socket",
		Shorthand:   "s",
		Description: "Address of the ember server (unix:/path, vsock:CID:PORT or fcvsock:/path:PORT)",
		EnvName:     "EMBER_SOCKET_PATH",
	}
}

// Config returns the flag selecting the configuration file.
func Config(def string) String {
	return String{
		Name:        "config",
		Shorthand:   "c",
		Description: "Path to the configuration file",
		Default:     def,
	}
}

// LogFormat returns the flag selecting the log handler.
func LogFormat() String {
	return String{
		Name:         "log-format",
		Description:  "Log format (text or json)",
		CompletionFn: Values("text", "json"),
	}
}

// Session returns the flag addressing the session table instead of the
// expiring one.
func Session() Bool {
	return Bool{
		Name:        "session",
		Description: "Use the session store, whose values live until the server exits",
	}
}

// JSON returns the flag selecting JSON output.
func JSON() Bool {
	return Bool{
		Name:        "json",
		Shorthand:   "j",
		Description: "Output JSON",
	}
}

func lookupEnv(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	v := os.Getenv(name)
	return v, v != ""
}

func makeAlias[T any](template T, name string) T {
	var ret T
	value := reflect.ValueOf(&ret).Elem()

	descField := reflect.ValueOf(template).FieldByName("Description")
	if descField.IsValid() {
		value.FieldByName("Description").SetString(descField.String())
	}

	nameField := value.FieldByName("Name")
	if nameField.IsValid() {
		nameField.SetString(name)
	}

	hiddenField := value.FieldByName("Hidden")
	if hiddenField.IsValid() {
		hiddenField.SetBool(true)
	}

	useAliasShortHandField := reflect.ValueOf(template).FieldByName("UseAliasShortHand")
	if useAliasShortHandField.IsValid() {
		if useAliasShortHandField.Bool() {
			value.FieldByName("Shorthand").SetString(string(name[0]))
		}
	}

	return ret
}
