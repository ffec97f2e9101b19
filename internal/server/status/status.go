package status

import (
	"net/http"

	"github.com/gorilla/csrf"
	"github.com/gorilla/mux"

	"github.com/mbhd/hwclient-go/hwclient"
	"github.com/mbhd/hwclient-go/internal/logs"
	"github.com/mbhd/hwclient-go/types"
)

// This package serves the status page on /status/ and the
// log file at /status/log.gz with the detailed log

type status struct {
	client                              *hwclient.Client
	version                             string
	shortMemoryWriter, longMemoryWriter *logs.MemoryWriter
	logger                              *logs.Logger
}

const csrfkey = "x5c0b9f3a7e1d2q8w4r6t0y9u3i7o1p5"

// ServeStatusRedirect sends / to the status page at base.
func ServeStatusRedirect(r *mux.Router, base string) {
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, base+"/status/", http.StatusMovedPermanently)
	})
	r.Use(OriginCheck(map[string]string{
		"/": "",
	}))
}

// ServeStatus serves the page and the detailed log. base is the origin
// the page itself is served from; only it may download the log.
func ServeStatus(r *mux.Router, c *hwclient.Client, v, base string, mw, dmw *logs.MemoryWriter) {
	status := &status{
		client:            c,
		version:           v,
		shortMemoryWriter: mw,
		longMemoryWriter:  dmw,
		logger:            logs.New(dmw),
	}
	r.Methods("GET").Path("/").HandlerFunc(status.statusPage)
	r.Methods("POST").Path("/log.gz").HandlerFunc(status.statusGzip)

	r.Use(csrf.Protect([]byte(csrfkey), csrf.Secure(false)))
	r.Use(OriginCheck(map[string]string{
		"/status/":       "",
		"/status/log.gz": base,
	}))
}

func (s *status) statusGzip(w http.ResponseWriter, r *http.Request) {
	s.logger.Log("building gzip")

	gzip, err := s.longMemoryWriter.Gzip(s.header())
	if err != nil {
		respondError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/gzip")

	_, err = w.Write(gzip)
	if err != nil {
		respondError(w, err)
		return
	}
}

func (s *status) header() string {
	return s.version + "\n" + s.client.Status().String() + "\n\nCurrent log:\n"
}

func (s *status) statusPage(w http.ResponseWriter, r *http.Request) {
	s.logger.Log("building status page")

	var templateErr error
	tdevs, err := s.statusEnumerate()
	if err != nil {
		s.logger.Log("enumerate err" + err.Error())
		templateErr = err
	}

	log, err := s.shortMemoryWriter.String(s.version + "\n")
	if err != nil {
		respondError(w, err)
		return
	}

	s.logger.Log("actually building status data")

	strErr := ""
	if templateErr != nil {
		strErr = templateErr.Error()
	}

	data := &statusTemplateData{
		Version:     s.version,
		Devices:     tdevs,
		DeviceCount: len(tdevs),
		Client:      s.client.Status(),
		Log:         log,
		IsError:     templateErr != nil,
		Error:       strErr,
		CSRFField:   csrf.TemplateField(r),
	}

	err = statusTemplate.Execute(w, data)
	if err != nil {
		respondError(w, err)
		return
	}
}

func respondError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func (s *status) statusEnumerate() ([]statusTemplateDevice, error) {
	e, err := s.client.Enumerate()
	if err != nil {
		return nil, err
	}

	attached := s.client.Status().Device

	tdevs := make([]statusTemplateDevice, 0, len(e))
	for _, dev := range e {
		tdevs = append(tdevs, makeStatusTemplateDevice(dev, attached))
	}
	return tdevs, nil
}

func makeStatusTemplateDevice(dev types.DeviceInfo, attached *types.DeviceInfo) statusTemplateDevice {
	return statusTemplateDevice{
		Type:     dev.Type.String(),
		Path:     dev.Path,
		Attached: attached != nil && attached.Path == dev.Path,
	}
}
