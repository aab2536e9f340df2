package indexer

import (
	"errors"
	"testing"
)

func TestOperationResult_Factories(t *testing.T) {
	ok := Success("stored", map[string]any{"video_id": "abc123"})
	if !ok.IsSuccess() || ok.IsFailure() {
		t.Errorf("Success() のステータスが不正: %+v", ok)
	}
	if ok.Metadata["video_id"] != "abc123" {
		t.Errorf("Metadata = %v", ok.Metadata)
	}

	cause := errors.New("connection refused")
	ng := Failure("store failed", cause)
	if !ng.IsFailure() || ng.IsSuccess() {
		t.Errorf("Failure() のステータスが不正: %+v", ng)
	}
	if ng.Err != cause {
		t.Errorf("Err = %v, want %v", ng.Err, cause)
	}

	partial := PartialSuccess("partially indexed", nil)
	if partial.Status != StatusPartialSuccess {
		t.Errorf("Status = %v, want %v", partial.Status, StatusPartialSuccess)
	}
}

// 集約ルール: SUCCESS iff 3つすべて成功、FAILURE iff ストレージ失敗、
// それ以外は PARTIAL_SUCCESS。
func TestProcessingResult_AggregationLaw(t *testing.T) {
	s := Success("ok", nil)
	f := Failure("ng", errors.New("boom"))

	tests := []struct {
		name                     string
		storage, indexing, stats OperationResult
		want                     OperationStatus
	}{
		{"全シンク成功", s, s, s, StatusSuccess},
		{"ストレージ失敗", f, s, s, StatusFailure},
		{"ストレージ失敗かつ他も失敗", f, f, f, StatusFailure},
		{"検索インデックスのみ失敗", s, f, s, StatusPartialSuccess},
		{"統計のみ失敗", s, s, f, StatusPartialSuccess},
		{"副次シンク両方失敗", s, f, f, StatusPartialSuccess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ProcessingResult{
				VideoID:  "abc123",
				Storage:  tt.storage,
				Indexing: tt.indexing,
				Stats:    tt.stats,
			}
			if got := r.OverallStatus(); got != tt.want {
				t.Errorf("OverallStatus() = %v, want %v", got, tt.want)
			}
			if r.IsSuccess() != (tt.want == StatusSuccess) {
				t.Errorf("IsSuccess() = %v と OverallStatus() が矛盾", r.IsSuccess())
			}
		})
	}
}
