package ctlog

import (
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/asn1"
	"github.com/google/certificate-transparency-go/tls"
	"github.com/google/certificate-transparency-go/x509"

	"github.com/andres10976/certharvest/internal/model"
)

var ErrParseFailed = errors.New("certificate parse failed")

var oidCommonName = asn1.ObjectIdentifier{2, 5, 4, 3}

// ParseCertificate decodes a PEM or DER certificate body. It reports whether
// the certificate carries the CT poison extension, which marks it as a
// precertificate. Non-fatal encoding problems common in CT data are
// tolerated.
func ParseCertificate(raw []byte) (*model.Certificate, bool, error) {
	der := raw
	if block, _ := pem.Decode(raw); block != nil {
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if x509.IsFatal(err) {
		return nil, false, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}
	if cert == nil {
		return nil, false, fmt.Errorf("%w: empty certificate", ErrParseFailed)
	}

	sctTime, sctExists, err := earliestSCT(cert)
	if err != nil {
		return nil, false, err
	}

	c := &model.Certificate{
		Serial:         cert.SerialNumber.Text(16),
		Issuer:         cert.Issuer.String(),
		NotBefore:      cert.NotBefore.UTC(),
		NotAfter:       cert.NotAfter.UTC(),
		SCTOrNotBefore: sctTime,
		SCTExists:      sctExists,
		PEM:            string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
	}
	c.SetSubjects(subjectNames(cert))

	return c, isPrecertificate(cert), nil
}

// subjectNames returns the SAN DNS names plus every subject CN.
func subjectNames(cert *x509.Certificate) []string {
	names := append([]string(nil), cert.DNSNames...)
	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(oidCommonName) {
			continue
		}
		if cn, ok := atv.Value.(string); ok && cn != "" {
			names = append(names, cn)
		}
	}
	return names
}

// earliestSCT returns the earliest embedded SCT timestamp, or NotBefore when
// the certificate has no SCTs.
func earliestSCT(cert *x509.Certificate) (time.Time, bool, error) {
	if len(cert.SCTList.SCTList) == 0 {
		if len(cert.RawSCT) > 0 {
			return time.Time{}, false, fmt.Errorf("%w: undecodable SCT list", ErrParseFailed)
		}
		return cert.NotBefore.UTC(), false, nil
	}

	var earliest uint64
	for i, serialized := range cert.SCTList.SCTList {
		var sct ct.SignedCertificateTimestamp
		rest, err := tls.Unmarshal(serialized.Val, &sct)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: SCT %d: %v", ErrParseFailed, i, err)
		}
		if len(rest) > 0 {
			return time.Time{}, false, fmt.Errorf("%w: SCT %d: trailing data", ErrParseFailed, i)
		}
		if i == 0 || sct.Timestamp < earliest {
			earliest = sct.Timestamp
		}
	}
	return time.UnixMilli(int64(earliest)).UTC(), true, nil
}

func isPrecertificate(cert *x509.Certificate) bool {
	for _, ext := range cert.Extensions {
		if x509.OIDExtensionCTPoison.Equal(ext.Id) {
			return true
		}
	}
	return false
}
