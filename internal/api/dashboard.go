package api

import (
	"html/template"
	"net/http"

	"stockvision/internal/model"
)

var dashboardTmpl = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>StockVision</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: right; }
th:first-child, td:first-child { text-align: left; }
</style>
</head>
<body>
<h1>StockVision</h1>
<p>Server time: {{.ServerTime}}</p>
{{if .Rows}}
<table>
<tr><th>Ticker</th><th>Date</th><th>Open</th><th>High</th><th>Low</th><th>Close</th><th>Volume</th></tr>
{{range .Rows}}<tr><td>{{.Ticker}}</td><td>{{.TradingDate.Format "2006-01-02"}}</td><td>{{.Open.StringFixed 2}}</td><td>{{.High.StringFixed 2}}</td><td>{{.Low.StringFixed 2}}</td><td>{{.Close.StringFixed 2}}</td><td>{{.Volume}}</td></tr>
{{end}}</table>
{{else}}
<p>No price data yet.</p>
{{end}}
</body>
</html>
`))

type dashboardData struct {
	ServerTime string
	Rows       []model.PriceRow
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.LatestPrices(r.Context(), "", DefaultLimit)
	if err != nil {
		s.log.Error("query dashboard rows", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err = dashboardTmpl.Execute(w, dashboardData{
		ServerTime: s.Now().Format("2006-01-02 15:04:05"),
		Rows:       rows,
	})
	if err != nil {
		s.log.Error("render dashboard", "error", err)
	}
}
