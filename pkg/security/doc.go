/*
Package security groups the transport and credential layers around the
retention engine.

  - tls: TLS termination with certificate reload and mutual TLS, where the
    client certificate identity becomes the request actor
  - auth: API key authentication with ingest, read and operator roles
  - secrets: resolution of ${secret:name} references in erasure target
    settings and API keys from environment variables or mounted files

All three are configured under the security section:

	security:
	  tls:
	    enabled: true
	    cert_file: /etc/lethe/tls/server.crt
	    key_file: /etc/lethe/tls/server.key
	    mtls:
	      enabled: true
	      client_ca_file: /etc/lethe/tls/clients-ca.pem
	  authentication:
	    enabled: true
	    keys:
	      - name: crm
	        key: ${secret:crm-api-key}
	        roles: [ingest]
	      - name: dpo
	        key: ${secret:dpo-api-key}
	        roles: [operator]
	  secrets:
	    providers:
	      - type: file
	        path: /var/run/secrets/lethe
	        watch: true
	      - type: env
	        prefix: LETHE_SECRET_
*/
package security
