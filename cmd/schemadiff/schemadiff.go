package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"syscall"

	"github.com/jessevdk/go-flags"
	"golang.org/x/term"

	"github.com/sqldef/schemadiff"
	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/database/file"
	"github.com/sqldef/schemadiff/database/mssql"
	"github.com/sqldef/schemadiff/database/mysql"
	"github.com/sqldef/schemadiff/database/postgres"
	"github.com/sqldef/schemadiff/database/sqlite3"
	"github.com/sqldef/schemadiff/diff"
	"github.com/sqldef/schemadiff/ignorelist"
	"github.com/sqldef/schemadiff/schema"
	"github.com/sqldef/schemadiff/util"
)

var version string

type cliOptions struct {
	Dialect      string   `short:"d" long:"dialect" description:"SQL dialect of both sources (postgres, mysql, mssql, sqlite3, clickhouse)" value-name:"dialect" default:"postgres"`
	User         string   `short:"U" long:"user" description:"Database user name" value-name:"user_name"`
	Password     string   `short:"W" long:"password" description:"Database user password, overridden by $SCHEMADIFF_PASSWORD" value-name:"password"`
	Host         string   `short:"h" long:"host" description:"Host to connect to the database server" value-name:"host_name" default:"127.0.0.1"`
	Port         uint     `short:"p" long:"port" description:"Port used for the connection, the dialect's default when omitted" value-name:"port_num"`
	Socket       string   `short:"S" long:"socket" description:"The socket file to use for connection" value-name:"socket"`
	SslMode      string   `long:"sslmode" description:"SSL mode of the connection" value-name:"ssl_mode"`
	SslCa        string   `long:"ssl-ca" description:"File that contains list of trusted SSL Certificate Authorities" value-name:"ssl_ca"`
	Prompt       bool     `long:"password-prompt" description:"Force database user password prompt"`
	Settings     string   `long:"settings" description:"YAML file with comparison settings" value-name:"settings_file"`
	IgnoreList   string   `long:"ignore-list" description:"File with SHOW/HIDE rules for objects" value-name:"ignore_file"`
	Overrides    []string `long:"override" description:"YAML file with owner and privilege overrides for the desired schema" value-name:"override_file"`
	Select       []string `long:"select" description:"Only script objects whose qualified name matches the regexp, and what depends on them" value-name:"regexp"`
	ManagedRoles []string `long:"managed-role" description:"Compare privileges granted to this role (PostgreSQL catalogs)" value-name:"role"`
	Schemas      []string `long:"target-schema" description:"Only read this schema from catalogs" value-name:"schema"`
	Concurrency  int      `long:"concurrency" description:"Number of parallel catalog queries and file parsers, negative for unlimited" value-name:"num" default:"4"`
	Expand       bool     `long:"expand-columns" description:"List changed columns of changed tables as separate edits"`
	PrintActions bool     `long:"print-actions" description:"Dump the resolved actions to stderr"`
	Color        string   `long:"color" description:"Highlight the script" choice:"auto" choice:"always" choice:"never" default:"auto"`
	Help         bool     `long:"help" description:"Show this help"`
	Version      bool     `long:"version" description:"Show this version"`
}

// Return parsed options and the current and desired sources
func parseOptions(args []string) (*cliOptions, string, string) {
	var opts cliOptions
	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[options] current desired"
	args, err := parser.ParseArgs(args)
	if err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}

	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	if len(args) != 2 {
		fmt.Printf("Expected the current and the desired schema, but got: %v\n\n", args)
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	if password, ok := os.LookupEnv("SCHEMADIFF_PASSWORD"); ok {
		opts.Password = password
	}
	if opts.Prompt {
		fmt.Printf("Enter Password: ")
		pass, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			log.Fatal(err)
		}
		opts.Password = string(pass)
	}
	return &opts, args[0], args[1]
}

func (o *cliOptions) config(dbName string, dialect schema.Dialect) database.Config {
	port := int(o.Port)
	if port == 0 {
		port = defaultPorts[dialect]
	}
	user := o.User
	if user == "" {
		user = defaultUsers[dialect]
	}
	return database.Config{
		DbName:          dbName,
		User:            user,
		Password:        o.Password,
		Host:            o.Host,
		Port:            port,
		Socket:          o.Socket,
		SslMode:         o.SslMode,
		SslCa:           o.SslCa,
		TargetSchemas:   o.Schemas,
		DumpConcurrency: o.Concurrency,
		ManagedRoles:    o.ManagedRoles,
	}
}

var defaultPorts = map[schema.Dialect]int{
	schema.DialectPostgres: 5432,
	schema.DialectMysql:    3306,
	schema.DialectMssql:    1433,
}

var defaultUsers = map[schema.Dialect]string{
	schema.DialectPostgres: "postgres",
	schema.DialectMysql:    "root",
	schema.DialectMssql:    "sa",
}

type sourceKind int

const (
	sourceDatabase sourceKind = iota
	sourceSQL
	sourceModel
)

// classifySource tells SQL files and directories, YAML models and database names apart.
func classifySource(source string) sourceKind {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".sql":
		return sourceSQL
	case ".yml", ".yaml":
		return sourceModel
	}
	if source == "-" {
		return sourceSQL
	}
	if stat, err := os.Stat(source); err == nil && stat.IsDir() {
		return sourceSQL
	}
	return sourceDatabase
}

// sqlFiles expands a directory to the SQL files below it in lexical order.
func sqlFiles(source string) ([]database.File, error) {
	paths := []string{source}
	if stat, err := os.Stat(source); err == nil && stat.IsDir() {
		paths = nil
		err := filepath.WalkDir(source, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		slices.Sort(paths)
	}

	files := make([]database.File, 0, len(paths))
	for _, path := range paths {
		f, err := database.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read '%s': %w", path, err)
		}
		files = append(files, f)
	}
	return files, nil
}

// openSource returns the reader of one side and a function releasing it.
func openSource(source string, dialect schema.Dialect, opts *cliOptions) (database.Reader, func(), error) {
	noop := func() {}
	switch classifySource(source) {
	case sourceModel:
		return file.NewDatabase(source, dialect), noop, nil
	case sourceSQL:
		if dialect != schema.DialectPostgres {
			return nil, noop, fmt.Errorf("SQL files can only be read for postgres, use a YAML model or a database for %s", dialect)
		}
		files, err := sqlFiles(source)
		if err != nil {
			return nil, noop, err
		}
		return database.FileLoader{
			Name:        strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)),
			Dialect:     dialect,
			Parser:      postgres.NewParser(),
			Files:       files,
			Concurrency: opts.Concurrency,
		}, noop, nil
	}

	var db database.Database
	var err error
	config := opts.config(source, dialect)
	switch dialect {
	case schema.DialectPostgres:
		db, err = postgres.NewDatabase(config)
	case schema.DialectMysql:
		db, err = mysql.NewDatabase(config)
	case schema.DialectMssql:
		db, err = mssql.NewDatabase(config)
	case schema.DialectSQLite3:
		db, err = sqlite3.NewDatabase(config)
	default:
		return nil, noop, fmt.Errorf("reading %s catalogs is not supported, use a YAML model", dialect)
	}
	if err != nil {
		return nil, noop, err
	}
	return db, func() { db.Close() }, nil
}

// selection compiles --select patterns. A node is selected when it or one of its
// containers matches. Nil selects everything.
func selection(patterns []string) (func(*diff.Node) bool, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	regexps := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid --select pattern: %w", err)
		}
		regexps = append(regexps, re)
	}
	return func(n *diff.Node) bool {
		for ; n != nil && n.Kind != schema.KindDatabase; n = n.Parent {
			for _, re := range regexps {
				if re.MatchString(n.QualifiedName()) {
					return true
				}
			}
		}
		return false
	}, nil
}

func runOptions(opts *cliOptions) (schemadiff.RunOptions, error) {
	dialect, err := schema.ParseDialect(opts.Dialect)
	if err != nil {
		return schemadiff.RunOptions{}, err
	}
	settings, err := database.ParseSettingsFile(opts.Settings, dialect)
	if err != nil {
		return schemadiff.RunOptions{}, err
	}

	var list *ignorelist.List
	if opts.IgnoreList != "" {
		f, err := os.Open(opts.IgnoreList)
		if err != nil {
			return schemadiff.RunOptions{}, err
		}
		defer f.Close()
		if list, err = ignorelist.Parse(f); err != nil {
			return schemadiff.RunOptions{}, fmt.Errorf("%s: %w", opts.IgnoreList, err)
		}
	}

	selected, err := selection(opts.Select)
	if err != nil {
		return schemadiff.RunOptions{}, err
	}
	overrides, err := file.ReadOverrides(opts.Overrides...)
	if err != nil {
		return schemadiff.RunOptions{}, err
	}

	color := opts.Color == "always" || (opts.Color == "auto" && term.IsTerminal(int(os.Stdout.Fd())))
	return schemadiff.RunOptions{
		Options: schemadiff.Options{
			Settings:      settings,
			IgnoreList:    list,
			Selection:     selected,
			ExpandColumns: opts.Expand,
		},
		Overrides:    overrides,
		PrintActions: opts.PrintActions,
		Color:        color,
		Output:       os.Stdout,
	}, nil
}

func main() {
	util.InitSlog()

	opts, currentSource, desiredSource := parseOptions(os.Args[1:])
	options, err := runOptions(opts)
	if err != nil {
		log.Fatal(err)
	}
	dialect := options.Settings.Dialect

	current, closeCurrent, err := openSource(currentSource, dialect, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer closeCurrent()
	desired, closeDesired, err := openSource(desiredSource, dialect, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer closeDesired()

	if err := schemadiff.Run(context.Background(), current, desired, options); err != nil {
		closeCurrent()
		closeDesired()
		log.Fatal(err)
	}
}
