package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"modelreg/internal/query"
)

var (
	queryCategory   string
	queryRegion     string
	queryWhere      []string
	queryProperties []string
	queryOrder      []string
	queryLimit      int
	queryStart      int
	queryLocal      bool
	queryFormat     string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query models over a region",
	Long: `Answer a query from the cache and the configured datasets.

Examples:
  modelreg query --category S/F/C --region t=0:10
  modelreg query --category S/F/C --region "t=0:10,depth=:5" --property temp
  modelreg query --category S/F/C --where "name~st%" --order -temp --local`,
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&queryCategory, "category", "", "Category as source/family/category, * for wildcards")
	queryCmd.Flags().StringVar(&queryRegion, "region", "", "Region as dim=min:max[,dim=min:max][|...]; empty for a scalar query")
	queryCmd.Flags().StringArrayVar(&queryWhere, "where", nil, "Property condition, e.g. temp>=3 or name~st% (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryProperties, "property", nil, "Property to return (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryOrder, "order", nil, "Property to order by, -name for descending (repeatable)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "Maximum number of results, 0 for all")
	queryCmd.Flags().IntVar(&queryStart, "start", 0, "Index of the first result")
	queryCmd.Flags().BoolVar(&queryLocal, "local", false, "Answer from the cache only")
	queryCmd.Flags().StringVar(&queryFormat, "format", "human", "Output format (human, json, yaml)")
	_ = queryCmd.MarkFlagRequired("category")

	rootCmd.AddCommand(queryCmd)
}

// buildRequest turns the query flags into a request.
func buildRequest() (query.Request, error) {
	r, err := query.ParseRegion(queryRegion)
	if err != nil {
		return query.Request{}, err
	}
	req := query.Request{
		Category:   queryCategory,
		Region:     r,
		Properties: queryProperties,
		Limit:      queryLimit,
		StartIndex: queryStart,
		Local:      queryLocal,
	}
	for _, w := range queryWhere {
		c, err := query.ParseCondition(w)
		if err != nil {
			return query.Request{}, err
		}
		req.Where = append(req.Where, c)
	}
	for _, o := range queryOrder {
		req.Order = append(req.Order, query.ParseOrder(o))
	}
	return req, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	req, err := buildRequest()
	if err != nil {
		return err
	}

	a, err := openApp(rootFlag)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := commandContext(cmd)
	if d := a.queryTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	res, err := query.Execute(ctx, a.registry, req)
	if err != nil {
		return err
	}
	out, err := FormatResponse(res, OutputFormat(queryFormat))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
