/*
Copyright 2022 GramLabs, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commander

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// ResourcePrinter formats an object to a byte stream
type ResourcePrinter interface {
	// PrintObj formats the specified object to the specified writer
	PrintObj(interface{}, io.Writer) error
}

// TableMeta is used to inspect objects for formatting
type TableMeta interface {
	// ExtractList accepts a single object (which possibly represents a list) and returns a slice to iterate over; this
	// should include a single element slice from the input object if it does not represent a list
	ExtractList(obj interface{}) ([]interface{}, error)
	// Columns returns the default list of columns to render for a given object (in some cases this may be overridden by the user)
	Columns(obj interface{}, outputFormat string) []string
	// ExtractValue returns the column string value for a given object from the extract list result
	ExtractValue(obj interface{}, column string) (string, error)
	// Header returns the header value to use for a column
	Header(outputFormat string, column string) string
}

// NoPrinterError is an error occurring when no suitable printer is available
type NoPrinterError struct {
	// OutputFormat is the requested output format
	OutputFormat string
	// AllowedFormats are the available output formats
	AllowedFormats []string
}

// Error returns a useful message for a "no printer" error
func (e NoPrinterError) Error() string {
	sort.Strings(e.AllowedFormats)
	return fmt.Sprintf("no printer for %s, allowed formats are: %s", e.OutputFormat, strings.Join(e.AllowedFormats, ","))
}

// printFlags are the options for creating a printer
type printFlags struct {
	// OutputFormat determines what type of printer should be created
	OutputFormat string
	// Meta is an optional inspector required for some formats
	Meta TableMeta
	// Columns overrides the default column list for supported formats
	Columns []string
	// NoHeader suppresses the headers for supported formats
	NoHeader bool
}

// allowedFormats returns the list of output formats which are currently available
func (f *printFlags) allowedFormats() []string {
	var allowed []string

	// These formats can be produced for pretty much anything
	allowed = append(allowed, "json")
	allowed = append(allowed, "yaml")

	// These formats all require the metadata
	if f.Meta != nil {
		allowed = append(allowed, "wide")
		allowed = append(allowed, "csv")
	}

	return allowed
}

// addFlags adds command line flags for configuring the printer
func (f *printFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.OutputFormat, "output", "o", f.OutputFormat, fmt.Sprintf("output `format`; one of: %s", strings.Join(f.allowedFormats(), "|")))
	cmd.Flags().BoolVar(&f.NoHeader, "no-headers", f.NoHeader, "don't print headers")
}

// toPrinter generates a new printer
func (f *printFlags) toPrinter(printer *ResourcePrinter) error {
	outputFormat := strings.ToLower(f.OutputFormat)

	switch outputFormat {
	case "json", "yaml":
		*printer = &marshalPrinter{outputFormat: outputFormat}
		return nil
	}

	if f.Meta != nil {
		switch outputFormat {
		case "", "wide":
			*printer = &tablePrinter{meta: f.Meta, columns: f.Columns, headers: !f.NoHeader, outputFormat: outputFormat}
			return nil
		case "csv":
			*printer = &csvPrinter{meta: f.Meta, headers: !f.NoHeader}
			return nil
		}
	}

	return NoPrinterError{OutputFormat: f.OutputFormat, AllowedFormats: f.allowedFormats()}
}

// SetPrinter assigns the resource printer during the pre-run of the supplied command
func SetPrinter(meta TableMeta, printer *ResourcePrinter, cmd *cobra.Command) {
	pf := &printFlags{Meta: meta}
	pf.addFlags(cmd)
	AddPreRunE(cmd, func(*cobra.Command, []string) error {
		return pf.toPrinter(printer)
	})
}

// marshalPrinter is a printer that generates output using some type of generic marshalling
type marshalPrinter struct {
	// outputFormat is the name of the marshaller to use, JSON will be used if it is unrecognized
	outputFormat string
}

// PrintObj will marshal the supplied object
func (p *marshalPrinter) PrintObj(obj interface{}, w io.Writer) error {
	if strings.ToLower(p.outputFormat) == "yaml" {
		output, err := yaml.Marshal(obj)
		if err != nil {
			return err
		}
		_, err = w.Write(output)
		return err
	}

	output, err := json.MarshalIndent(obj, "", "    ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", output)
	return err
}

// tablePrinter is a printer that generates tabular output
type tablePrinter struct {
	// meta is used to extract information about the objects being formatted
	meta TableMeta
	// columns is the list of columns to generate
	columns []string
	// headers determines if the header row should be included
	headers bool
	// outputFormat is the format this table printer is generating (e.g. "wide")
	outputFormat string
}

// PrintObj generates the tabular data
func (p *tablePrinter) PrintObj(obj interface{}, w io.Writer) error {
	rows, err := p.meta.ExtractList(obj)
	if err != nil {
		return err
	}

	columns := p.columns
	if len(columns) == 0 {
		columns = p.meta.Columns(obj, p.outputFormat)
	}

	tw := tabwriter.NewWriter(w, 3, 0, 3, ' ', 0)

	if p.headers {
		headers := make([]string, len(columns))
		for i := range columns {
			headers[i] = p.meta.Header(p.outputFormat, columns[i])
		}
		if _, err = fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
			return err
		}
	}

	for i := range rows {
		values := make([]string, len(columns))
		for j := range columns {
			if values[j], err = p.meta.ExtractValue(rows[i], columns[j]); err != nil {
				return err
			}
		}
		if _, err = fmt.Fprintln(tw, strings.Join(values, "\t")); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// csvPrinter generates comma separated values
type csvPrinter struct {
	// meta is used to extract information about the objects being formatted
	meta TableMeta
	// headers determines if the header row should be included
	headers bool
}

// PrintObj generates the CSV data
func (p *csvPrinter) PrintObj(obj interface{}, w io.Writer) error {
	rows, err := p.meta.ExtractList(obj)
	if err != nil {
		return err
	}

	columns := p.meta.Columns(obj, "csv")
	cw := csv.NewWriter(w)

	if p.headers {
		headers := make([]string, len(columns))
		for i := range columns {
			headers[i] = p.meta.Header("csv", columns[i])
		}
		if err = cw.Write(headers); err != nil {
			return err
		}
	}

	for i := range rows {
		values := make([]string, len(columns))
		for j := range columns {
			if values[j], err = p.meta.ExtractValue(rows[i], columns[j]); err != nil {
				return err
			}
		}
		if err = cw.Write(values); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
