package auth

// CodeState は認可コードの処理状態。
type CodeState string

const (
	// CodeUnprocessed は未処理（マーカーが無い、または別のコード）。
	CodeUnprocessed CodeState = ""
	// CodeProcessing は交換中。
	CodeProcessing CodeState = "processing"
	// CodeProcessed は交換済み。
	CodeProcessed CodeState = "processed"
)

// CodeMarker はセッションに保存するコールバックの処理状態。
// 同じ認可コードでの二重交換を防ぐ。
type CodeMarker struct {
	Code  string    `json:"code"`
	State CodeState `json:"state"`
}

// StateFor は指定コードの処理状態を返す。
func (m CodeMarker) StateFor(code string) CodeState {
	if code == "" || m.Code != code {
		return CodeUnprocessed
	}
	return m.State
}

// ProcessingMarker は交換開始時のマーカーを返す。
func ProcessingMarker(code string) CodeMarker {
	return CodeMarker{Code: code, State: CodeProcessing}
}

// ProcessedMarker は交換成功時のマーカーを返す。
func ProcessedMarker(code string) CodeMarker {
	return CodeMarker{Code: code, State: CodeProcessed}
}
