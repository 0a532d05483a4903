package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/settlement-ledger/internal/domain"
	"github.com/dvloznov/settlement-ledger/internal/store"
	"google.golang.org/api/iterator"
)

const factSelectColumns = `
			fact_id,
			external_id,
			received_ts,
			kind,
			CAST(virtual_amount AS STRING) AS virtual_amount,
			CAST(bank_credit AS STRING) AS bank_credit,
			CAST(indifi_deduction AS STRING) AS indifi_deduction,
			transaction_ref,
			virtual_code,
			bank_account,
			raw_subject,
			raw_body,
			created_ts,
			updated_ts,
			reparsed_ts`

// InsertFactWithClient inserts row unless a fact with the same external_id
// exists, in which case it returns store.ErrConflict. The MERGE makes the
// check and the insert one atomic statement.
func InsertFactWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, row *FactRow) error {
	q := client.Query(fmt.Sprintf(`
		MERGE %s T
		USING (SELECT @external_id AS external_id) S
		ON T.external_id = S.external_id
		WHEN NOT MATCHED THEN
		  INSERT (
			fact_id, external_id, received_ts, kind,
			virtual_amount, bank_credit, indifi_deduction,
			transaction_ref, virtual_code, bank_account,
			raw_subject, raw_body, created_ts, updated_ts
		  )
		  VALUES (
			@fact_id, @external_id, @received_ts, @kind,
			SAFE_CAST(@virtual_amount AS NUMERIC),
			SAFE_CAST(@bank_credit AS NUMERIC),
			SAFE_CAST(@indifi_deduction AS NUMERIC),
			@transaction_ref, @virtual_code, @bank_account,
			@raw_subject, @raw_body, @created_ts, @updated_ts
		  )
	`, ds.Table(factsTable)))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "fact_id", Value: row.FactID},
		{Name: "external_id", Value: row.ExternalID},
		{Name: "received_ts", Value: row.ReceivedTS},
		{Name: "kind", Value: row.Kind},
		{Name: "virtual_amount", Value: row.VirtualAmount},
		{Name: "bank_credit", Value: row.BankCredit},
		{Name: "indifi_deduction", Value: row.IndifiDeduction},
		{Name: "transaction_ref", Value: row.TransactionRef},
		{Name: "virtual_code", Value: row.VirtualCode},
		{Name: "bank_account", Value: row.BankAccount},
		{Name: "raw_subject", Value: row.RawSubject},
		{Name: "raw_body", Value: row.RawBody},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("InsertFact: %w", err)
	}
	if affected == 0 {
		return store.ErrConflict
	}
	return nil
}

// QueryFactsWithClient returns facts with start <= received_ts < end in
// ascending order. Zero bounds are open.
func QueryFactsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, start, end time.Time) ([]domain.PaymentFact, error) {
	sql, params := buildFactsRangeQuery(ds, start, end)
	q := client.Query(sql)
	q.Parameters = params

	facts, err := readFacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("QueryFacts: %w", err)
	}
	return facts, nil
}

// ExistingExternalIDsWithClient returns which of ids are already stored.
func ExistingExternalIDsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, ids []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	if len(ids) == 0 {
		return found, nil
	}

	q := client.Query(fmt.Sprintf(`
		SELECT external_id
		FROM %s
		WHERE external_id IN UNNEST(@ids)
	`, ds.Table(factsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "ids", Value: ids},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ExistingExternalIDs: query read: %w", err)
	}
	for {
		var r struct {
			ExternalID string `bigquery:"external_id"`
		}
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ExistingExternalIDs: iter next: %w", err)
		}
		found[r.ExternalID] = struct{}{}
	}
	return found, nil
}

// UpdateFactWithClient applies patch to the fact with the given ID.
func UpdateFactWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, id string, patch domain.FactPatch) error {
	if patch.Empty() {
		return nil
	}

	sql, params := buildFactUpdate(ds, id, patch, time.Now().UTC())
	q := client.Query(sql)
	q.Parameters = params

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("UpdateFact %s: %w", id, err)
	}
	if affected == 0 {
		return fmt.Errorf("UpdateFact %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// ListIncompleteFactsWithClient returns up to limit facts that are unknown or
// lack the amount or reference their kind should carry. Never-reparsed facts
// come first, then the least recently reparsed.
func ListIncompleteFactsWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, limit int) ([]domain.PaymentFact, error) {
	sql, params := buildIncompleteQuery(ds, limit)
	q := client.Query(sql)
	q.Parameters = params

	facts, err := readFacts(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("ListIncompleteFacts: %w", err)
	}
	return facts, nil
}

// MarkReparsedWithClient stamps reparsed_ts on the given facts.
func MarkReparsedWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET reparsed_ts = @reparsed_ts
		WHERE fact_id IN UNNEST(@ids)
	`, ds.Table(factsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "reparsed_ts", Value: at.UTC()},
		{Name: "ids", Value: ids},
	}

	if _, err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkReparsed: %w", err)
	}
	return nil
}

func buildIncompleteQuery(ds Dataset, limit int) (string, []bigquery.QueryParameter) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE kind = 'unknown'
		   OR transaction_ref IS NULL
		   OR (kind = 'virtual_credit' AND virtual_amount IS NULL)
		   OR (kind = 'release_to_bank' AND bank_credit IS NULL)
		   OR (kind = 'emi_deduction_explicit' AND indifi_deduction IS NULL)
		ORDER BY reparsed_ts ASC NULLS FIRST, received_ts, external_id
	`, factSelectColumns, ds.Table(factsTable))

	var params []bigquery.QueryParameter
	if limit > 0 {
		sql += "\t\tLIMIT @limit\n"
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(limit)})
	}
	return sql, params
}

func buildFactsRangeQuery(ds Dataset, start, end time.Time) (string, []bigquery.QueryParameter) {
	var (
		where  []string
		params []bigquery.QueryParameter
	)
	if !start.IsZero() {
		where = append(where, "received_ts >= @start_ts")
		params = append(params, bigquery.QueryParameter{Name: "start_ts", Value: start.UTC()})
	}
	if !end.IsZero() {
		where = append(where, "received_ts < @end_ts")
		params = append(params, bigquery.QueryParameter{Name: "end_ts", Value: end.UTC()})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\n\t\tFROM %s\n", factSelectColumns, ds.Table(factsTable))
	if len(where) > 0 {
		fmt.Fprintf(&b, "\t\tWHERE %s\n", strings.Join(where, " AND "))
	}
	b.WriteString("\t\tORDER BY received_ts, external_id")
	return b.String(), params
}

func buildFactUpdate(ds Dataset, id string, p domain.FactPatch, now time.Time) (string, []bigquery.QueryParameter) {
	var (
		sets   []string
		params []bigquery.QueryParameter
	)
	set := func(column, expr string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = %s", column, expr))
		params = append(params, bigquery.QueryParameter{Name: column, Value: value})
	}

	if p.Kind != nil {
		set("kind", "@kind", string(*p.Kind))
	}
	if p.VirtualAmount != nil {
		set("virtual_amount", "CAST(@virtual_amount AS NUMERIC)", p.VirtualAmount.String())
	}
	if p.BankCredit != nil {
		set("bank_credit", "CAST(@bank_credit AS NUMERIC)", p.BankCredit.String())
	}
	if p.IndifiDeduction != nil {
		set("indifi_deduction", "CAST(@indifi_deduction AS NUMERIC)", p.IndifiDeduction.String())
	}
	if p.TransactionRef != nil {
		set("transaction_ref", "@transaction_ref", *p.TransactionRef)
	}
	if p.VirtualCode != nil {
		set("virtual_code", "@virtual_code", *p.VirtualCode)
	}
	if p.BankAccount != nil {
		set("bank_account", "@bank_account", *p.BankAccount)
	}
	set("updated_ts", "@updated_ts", now)

	params = append(params, bigquery.QueryParameter{Name: "fact_id", Value: id})
	sql := fmt.Sprintf("UPDATE %s\n\t\tSET %s\n\t\tWHERE fact_id = @fact_id",
		ds.Table(factsTable), strings.Join(sets, ",\n\t\t    "))
	return sql, params
}

func readFacts(ctx context.Context, q *bigquery.Query) ([]domain.PaymentFact, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("query read: %w", err)
	}

	var facts []domain.PaymentFact
	for {
		var r FactRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iter next: %w", err)
		}
		f, err := r.Fact()
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
