package router

import (
	"net/url"

	"github.com/browser-go/extension-bridge/cdp"
	"github.com/browser-go/extension-bridge/device"
)

// Identifiers reported for the synthetic top-level browser target.
const (
	ProtocolVersion = "1.3"
	Product         = "Chrome/Extension-Bridge"
	BridgeUserAgent = "Browser-Go-Extension-Bridge/1.0.0"
)

const (
	methodBrowserGetVersion          = "Browser.getVersion"
	methodBrowserSetDownloadBehavior = "Browser.setDownloadBehavior"
	methodTargetSetAutoAttach        = "Target.setAutoAttach"
	methodTargetGetTargets           = "Target.getTargets"
	methodTargetAttachedToTarget     = "Target.attachedToTarget"
	methodPageGetFrameTree           = "Page.getFrameTree"
)

type versionResult struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	UserAgent       string `json:"userAgent"`
}

type attachedToTargetParams struct {
	SessionID          string         `json:"sessionId"`
	TargetInfo         cdp.TargetInfo `json:"targetInfo"`
	WaitingForDebugger bool           `json:"waitingForDebugger"`
}

type targetInfosResult struct {
	TargetInfos []cdp.TargetInfo `json:"targetInfos"`
}

type frameInfo struct {
	ID                             string   `json:"id"`
	LoaderID                       string   `json:"loaderId"`
	URL                            string   `json:"url"`
	DomainAndRegistry              string   `json:"domainAndRegistry"`
	SecurityOrigin                 string   `json:"securityOrigin"`
	MimeType                       string   `json:"mimeType"`
	SecureContextType              string   `json:"secureContextType"`
	CrossOriginIsolatedContextType string   `json:"crossOriginIsolatedContextType"`
	GatedAPIFeatures               []string `json:"gatedAPIFeatures"`
}

type frameTree struct {
	Frame       frameInfo   `json:"frame"`
	ChildFrames []frameTree `json:"childFrames"`
}

type frameTreeResult struct {
	FrameTree frameTree `json:"frameTree"`
}

// handleLocal synthesizes replies for the handful of methods a Playwright
// handshake needs without the extension implementing them.  It returns true
// when the frame was fully handled and must not be forwarded.  The device may
// be nil; methods that need its connection-info fall through to forwarding.
func (r *Router) handleLocal(c *Conn, d *device.Device, frame *cdp.Frame) (bool, error) {
	if !frame.IsRequest() {
		return false, nil
	}

	var info *cdp.ConnectionInfo
	if d != nil {
		info = d.ConnectionInfo()
	}

	switch frame.Method {
	case methodBrowserGetVersion:
		return true, r.replyLocal(c, frame, versionResult{
			ProtocolVersion: ProtocolVersion,
			Product:         Product,
			UserAgent:       BridgeUserAgent,
		})

	case methodBrowserSetDownloadBehavior:
		return true, r.replyLocal(c, frame, nil)

	case methodTargetSetAutoAttach:
		// simulate the attach only for the top-level session; requests that
		// already carry a sessionId are forwarded untouched
		if info == nil || len(frame.SessionID) > 0 {
			return false, nil
		}

		attached := info.TargetInfo
		attached.Attached = true
		event, err := cdp.NewEvent(methodTargetAttachedToTarget, attachedToTargetParams{
			SessionID:  info.SessionID,
			TargetInfo: attached,
		})
		if err != nil {
			return true, err
		}

		if err := c.Send(event); err != nil {
			return true, err
		}

		return true, r.replyLocal(c, frame, nil)

	case methodTargetGetTargets:
		result := targetInfosResult{TargetInfos: []cdp.TargetInfo{}}
		if info != nil {
			attached := info.TargetInfo
			attached.Attached = true
			result.TargetInfos = append(result.TargetInfos, attached)
		}

		return true, r.replyLocal(c, frame, result)

	case methodPageGetFrameTree:
		if info == nil {
			return false, nil
		}

		return true, r.replyLocal(c, frame, buildFrameTree(info))

	default:
		return false, nil
	}
}

func (r *Router) replyLocal(c *Conn, request *cdp.Frame, result interface{}) error {
	response, err := cdp.NewResponse(request.ID, result)
	if err != nil {
		return err
	}

	r.measures.Response.Add(1)
	return c.Send(response)
}

// buildFrameTree derives a single-frame tree from the connection-info URL.
// The security origin degrades to the literal "null" for about:blank and for
// anything that does not parse as a URL with a host.
func buildFrameTree(info *cdp.ConnectionInfo) frameTreeResult {
	var (
		pageURL           = info.TargetInfo.URL
		securityOrigin    = "null"
		domainAndRegistry string
		secureContextType = "Insecure"
	)

	if parsed, err := url.Parse(pageURL); err == nil && len(parsed.Host) > 0 {
		securityOrigin = parsed.Scheme + "://" + parsed.Host
		domainAndRegistry = parsed.Hostname()
		if parsed.Scheme == "https" {
			secureContextType = "Secure"
		}
	}

	return frameTreeResult{
		FrameTree: frameTree{
			Frame: frameInfo{
				ID:                             info.TargetInfo.TargetID,
				LoaderID:                       info.TargetInfo.TargetID + "_loader",
				URL:                            pageURL,
				DomainAndRegistry:              domainAndRegistry,
				SecurityOrigin:                 securityOrigin,
				MimeType:                       "text/html",
				SecureContextType:              secureContextType,
				CrossOriginIsolatedContextType: "NotIsolated",
				GatedAPIFeatures:               []string{},
			},
			ChildFrames: []frameTree{},
		},
	}
}
