package main

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// Activity names, as matched by policy rules
const (
	GreetActivity            = "greet"
	FetchDataActivity        = "fetch_data"
	ProcessDataActivity      = "process_data"
	DeleteAllRecordsActivity = "delete_all_records"
)

// Record is the data passed between the sample activities
type Record struct {
	ID          string `json:"id"`
	Value       string `json:"value"`
	Status      string `json:"status"`
	Processed   bool   `json:"processed"`
	ProcessedBy string `json:"processed_by,omitempty"`
}

func Greet(ctx context.Context, name string) (string, error) {
	return fmt.Sprintf("Hello, %s!", name), nil
}

func FetchData(ctx context.Context, id string) (Record, error) {
	return Record{ID: id, Value: "sample_data", Status: "active"}, nil
}

func ProcessData(ctx context.Context, r Record) (Record, error) {
	r.Processed = true
	r.ProcessedBy = "temporal-worker"
	return r, nil
}

// DeleteAllRecords is denied by any rule set that blocks delete_*
func DeleteAllRecords(ctx context.Context) (string, error) {
	return "All records deleted!", nil
}

// OrderInput starts OrderWorkflow
type OrderInput struct {
	Name   string `json:"name"`
	DataID string `json:"data_id"`
}

// OrderResult is returned by OrderWorkflow
type OrderResult struct {
	Greeting  string `json:"greeting"`
	Processed Record `json:"processed"`
}

// OrderWorkflow runs the greet, fetch and process activities in sequence
func OrderWorkflow(ctx workflow.Context, in OrderInput) (OrderResult, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var result OrderResult
	if err := workflow.ExecuteActivity(ctx, GreetActivity, in.Name).Get(ctx, &result.Greeting); err != nil {
		return OrderResult{}, err
	}

	var record Record
	if err := workflow.ExecuteActivity(ctx, FetchDataActivity, in.DataID).Get(ctx, &record); err != nil {
		return OrderResult{}, err
	}
	if err := workflow.ExecuteActivity(ctx, ProcessDataActivity, record).Get(ctx, &result.Processed); err != nil {
		return OrderResult{}, err
	}
	return result, nil
}

// PurgeWorkflow attempts a destructive activity
func PurgeWorkflow(ctx workflow.Context) (string, error) {
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var out string
	err := workflow.ExecuteActivity(ctx, DeleteAllRecordsActivity).Get(ctx, &out)
	return out, err
}

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{StartToCloseTimeout: 10 * time.Second}
}

// registry is the subset of worker.Worker used to register the samples
type registry interface {
	RegisterWorkflow(w interface{})
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

func register(r registry) {
	r.RegisterWorkflow(OrderWorkflow)
	r.RegisterWorkflow(PurgeWorkflow)
	r.RegisterActivityWithOptions(Greet, activity.RegisterOptions{Name: GreetActivity})
	r.RegisterActivityWithOptions(FetchData, activity.RegisterOptions{Name: FetchDataActivity})
	r.RegisterActivityWithOptions(ProcessData, activity.RegisterOptions{Name: ProcessDataActivity})
	r.RegisterActivityWithOptions(DeleteAllRecords, activity.RegisterOptions{Name: DeleteAllRecordsActivity})
}
