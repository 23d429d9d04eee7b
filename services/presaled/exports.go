package presaled

import (
	"fmt"
	"net/http"

	"github.com/rados-io/saturn-presale/integrations/exports"
)

const headerChecksum = "X-Checksum-SHA256"

func writeExport(w http.ResponseWriter, contentType, filename string, data []byte, checksum string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set(headerChecksum, checksum)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportGrantsCSV(w http.ResponseWriter, r *http.Request) {
	grants, err := s.engine.Grants()
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	data, sum, err := exports.GrantsCSV(grants)
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	writeExport(w, "text/csv", "grants.csv", data, sum)
}

func (s *Server) handleExportGrantsJSONL(w http.ResponseWriter, r *http.Request) {
	grants, err := s.engine.Grants()
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	data, sum, err := exports.GrantsJSONL(grants)
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	writeExport(w, "application/x-ndjson", "grants.jsonl", data, sum)
}

func (s *Server) handleExportGrantsParquet(w http.ResponseWriter, r *http.Request) {
	grants, err := s.engine.Grants()
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	data, sum, err := exports.GrantsParquet(grants)
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	writeExport(w, "application/vnd.apache.parquet", "grants.parquet", data, sum)
}

func (s *Server) handleExportAccountsCSV(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.Accounts()
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	data, sum, err := exports.AccountsCSV(accounts)
	if err != nil {
		s.writeLedgerError(w, "export", err)
		return
	}
	writeExport(w, "text/csv", "accounts.csv", data, sum)
}
